package herbledgersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal HerbLedger HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Timeout:    10 * time.Second,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Tag represents a provisioned RFID tag.
type Tag struct {
	TagUID  string `json:"tagUID"`
	BatchID string `json:"batchID"`
	Status  string `json:"status"`
	Owner   string `json:"owner"`
}

// CollectionEvent represents an accepted harvest event.
type CollectionEvent struct {
	EventID     string   `json:"eventID"`
	CollectorID string   `json:"collectorID"`
	Species     string   `json:"species"`
	BagIDs      []string `json:"bagIDs"`
	Status      string   `json:"status"`
	Timestamp   string   `json:"timestamp"`
}

// Batch represents a transport or processed batch.
type Batch struct {
	ObjectType string   `json:"objectType"`
	BatchID    string   `json:"batchID"`
	BagIDs     []string `json:"bagIDs,omitempty"`
	InputBags  []string `json:"inputBags,omitempty"`
	Status     string   `json:"status"`
	Owner      string   `json:"owner"`
}

// QualityTest represents a recorded lab test.
type QualityTest struct {
	TestID      string `json:"testID"`
	BatchID     string `json:"batchID"`
	LabID       string `json:"labID"`
	OverallPass bool   `json:"overallPass"`
}

// SmartLabel represents an issued label.
type SmartLabel struct {
	LabelID   string `json:"labelID"`
	BatchID   string `json:"batchID"`
	Signature string `json:"signature"`
	Timestamp string `json:"timestamp"`
}

// Recall represents a triggered recall.
type Recall struct {
	RecallID  string `json:"recallID"`
	BatchID   string `json:"batchID"`
	Reason    string `json:"reason"`
	Initiator string `json:"initiator"`
}

// Asset is one ledger record under its key.
type Asset struct {
	Key    string          `json:"key"`
	Record json.RawMessage `json:"record"`
}

// LineageNode is one node of the ancestor tree.
type LineageNode struct {
	BatchID   string        `json:"batchID,omitempty"`
	BagID     string        `json:"bagID,omitempty"`
	Type      string        `json:"type,omitempty"`
	Status    string        `json:"status,omitempty"`
	Owner     string        `json:"owner,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
	Error     string        `json:"error,omitempty"`
	Parents   []LineageNode `json:"parents,omitempty"`
}

// Event is one entry of the event log.
type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts"`
	Name      string         `json:"name"`
	RecordKey string         `json:"record_key"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ProvisionTag links a tag to a batch.
func (c *Client) ProvisionTag(ctx context.Context, tagUID, batchID, metaHash string) (Tag, error) {
	body := map[string]any{"tagUID": tagUID, "batchID": batchID, "metaHash": metaHash}
	var resp Tag
	err := c.do(ctx, http.MethodPost, "v0/tags", body, &resp)
	return resp, err
}

// RecordCollection records a harvest collection event.
func (c *Client) RecordCollection(ctx context.Context, eventID, species string, lat, lon float64, bagIDs []string) (CollectionEvent, error) {
	body := map[string]any{
		"eventID":   eventID,
		"species":   species,
		"latitude":  lat,
		"longitude": lon,
		"bagIDs":    bagIDs,
	}
	var resp CollectionEvent
	err := c.do(ctx, http.MethodPost, "v0/collections", body, &resp)
	return resp, err
}

// CreateTransportBatch groups bags into a transport batch.
func (c *Client) CreateTransportBatch(ctx context.Context, batchID string, bagIDs []string, truckID string) (Batch, error) {
	body := map[string]any{"batchID": batchID, "bagIDs": bagIDs, "truckID": truckID}
	var resp Batch
	err := c.do(ctx, http.MethodPost, "v0/transports", body, &resp)
	return resp, err
}

// CreateProcessedBatch consumes input batches into a processed batch.
func (c *Client) CreateProcessedBatch(ctx context.Context, outputBatchID string, inputBatchIDs []string) (Batch, error) {
	body := map[string]any{"outputBatchID": outputBatchID, "inputBatchIDs": inputBatchIDs}
	var resp Batch
	err := c.do(ctx, http.MethodPost, "v0/processed-batches", body, &resp)
	return resp, err
}

// RecordQualityTest submits lab measurements for a batch.
func (c *Client) RecordQualityTest(ctx context.Context, testID, batchID string, results map[string]float64) (QualityTest, error) {
	list := make([]map[string]any, 0, len(results))
	for name, value := range results {
		list = append(list, map[string]any{"name": name, "value": value})
	}
	body := map[string]any{"testID": testID, "batchID": batchID, "testResults": list}
	var resp QualityTest
	err := c.do(ctx, http.MethodPost, "v0/quality-tests", body, &resp)
	return resp, err
}

// GenerateLabel issues a smart label for an approved batch.
func (c *Client) GenerateLabel(ctx context.Context, batchID string, labelMeta map[string]any) (SmartLabel, error) {
	body := map[string]any{"labelMeta": labelMeta}
	var resp SmartLabel
	endpoint := fmt.Sprintf("v0/batches/%s/label", url.PathEscape(batchID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TransferBatch moves batch ownership to another organization.
func (c *Client) TransferBatch(ctx context.Context, batchID, to string) (Batch, error) {
	body := map[string]any{"to": to}
	var resp Batch
	endpoint := fmt.Sprintf("v0/batches/%s/transfer", url.PathEscape(batchID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// QuarantineBatch forces a batch into quarantine.
func (c *Client) QuarantineBatch(ctx context.Context, batchID, reason string) (Batch, error) {
	body := map[string]any{"reason": reason}
	var resp Batch
	endpoint := fmt.Sprintf("v0/batches/%s/quarantine", url.PathEscape(batchID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TriggerRecall records a recall for a batch.
func (c *Client) TriggerRecall(ctx context.Context, batchID, reason string, meta map[string]any) (Recall, error) {
	body := map[string]any{"reason": reason, "recallMeta": meta}
	var resp Recall
	endpoint := fmt.Sprintf("v0/batches/%s/recall", url.PathEscape(batchID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Asset fetches one ledger record.
func (c *Client) Asset(ctx context.Context, id string) (Asset, error) {
	var resp Asset
	endpoint := fmt.Sprintf("v0/assets/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AssetsByType lists all records of one object type.
func (c *Client) AssetsByType(ctx context.Context, objectType string) ([]Asset, error) {
	var resp []Asset
	endpoint := "v0/assets?type=" + url.QueryEscape(objectType)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Lineage fetches the ancestor tree of a batch.
func (c *Client) Lineage(ctx context.Context, batchID string) (LineageNode, error) {
	var resp struct {
		Lineage LineageNode `json:"lineage"`
	}
	endpoint := fmt.Sprintf("v0/batches/%s/lineage", url.PathEscape(batchID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Lineage, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
