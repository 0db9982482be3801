package server

import (
	"encoding/json"

	"herbledger/internal/domain"
	"herbledger/internal/ledger"
	"herbledger/internal/lineage"
)

type ProvisionTagRequest struct {
	TagUID        string `json:"tagUID"`
	BatchID       string `json:"batchID"`
	ProvisionerID string `json:"provisionerID,omitempty"`
	MetaHash      string `json:"metaHash,omitempty"`
}

type CollectionRequest struct {
	EventID     string   `json:"eventID"`
	CollectorID string   `json:"collectorID,omitempty"`
	Species     string   `json:"species"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	BagIDs      []string `json:"bagIDs,omitempty"`
	MetaHash    string   `json:"metaHash,omitempty"`
}

type TransportRequest struct {
	BatchID       string   `json:"batchID"`
	BagIDs        []string `json:"bagIDs"`
	TransporterID string   `json:"transporterID,omitempty"`
	TruckID       string   `json:"truckID,omitempty"`
	MetaHash      string   `json:"metaHash,omitempty"`
}

type ProcessRequest struct {
	InputBatchIDs []string `json:"inputBatchIDs"`
	OutputBatchID string   `json:"outputBatchID"`
	ProcessorID   string   `json:"processorID,omitempty"`
	MetaHash      string   `json:"metaHash,omitempty"`
}

type StepRequest struct {
	StepID     string         `json:"stepID"`
	BatchID    string         `json:"batchID"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters,omitempty"`
	OperatorID string         `json:"operatorID,omitempty"`
	MetaHash   string         `json:"metaHash,omitempty"`
}

type QualityTestRequest struct {
	TestID      string              `json:"testID"`
	BatchID     string              `json:"batchID"`
	LabID       string              `json:"labID,omitempty"`
	TestResults []domain.TestResult `json:"testResults"`
	MetaHash    string              `json:"metaHash,omitempty"`
}

type LabelRequest struct {
	LabelMeta map[string]any `json:"labelMeta,omitempty"`
}

type TransferRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

type QuarantineRequest struct {
	Reason string `json:"reason"`
}

type RecallRequest struct {
	Reason     string         `json:"reason"`
	RecallMeta map[string]any `json:"recallMeta,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at"`
}

// AssetResponse carries a ledger record verbatim under its key.
type AssetResponse struct {
	Key    string          `json:"key"`
	Record json.RawMessage `json:"record"`
}

type EventResponse struct {
	ID        int64           `json:"id"`
	TS        string          `json:"ts"`
	Name      string          `json:"name"`
	RecordKey string          `json:"record_key"`
	ActorID   string          `json:"actor_id"`
	Payload   json.RawMessage `json:"payload"`
}

type LineageResponse struct {
	Lineage lineage.Node `json:"lineage"`
}

func assetResponse(rec ledger.KeyRecord) AssetResponse {
	return AssetResponse{Key: rec.Key, Record: rec.Record}
}

func mapAssets(recs []ledger.KeyRecord) []AssetResponse {
	out := make([]AssetResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, assetResponse(rec))
	}
	return out
}

func eventResponse(e ledger.Event) EventResponse {
	payload := json.RawMessage("{}")
	if json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage(e.Payload)
	}
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Name:      e.Name,
		RecordKey: e.RecordKey,
		ActorID:   e.ActorID,
		Payload:   payload,
	}
}

func mapEvents(events []ledger.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse(e))
	}
	return out
}
