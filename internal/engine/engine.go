package engine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"herbledger/internal/config"
	"herbledger/internal/domain"
	"herbledger/internal/ledger"
	"herbledger/internal/lineage"
	"herbledger/internal/rules"
)

// Engine applies asset state transitions against the ledger. Every mutating
// operation validates first, computes its full write set, then commits all
// record writes and exactly one event in a single transaction.
type Engine struct {
	DB     *sql.DB
	Store  ledger.Store
	Events ledger.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Store:  ledger.Store{DB: db},
		Events: ledger.Writer{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// write is one staged record put. Operations stage every write before the
// transaction opens so a rejection can never leave a partial transition.
type write struct {
	key        string
	objectType string
	record     any
}

// commit applies staged writes and the operation's event atomically.
func (e Engine) commit(ctx context.Context, writes []write, eventName, eventKey, actorID string, eventPayload any) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, w := range writes {
		payload, err := json.Marshal(w.record)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", w.key, err)
		}
		if err := e.Store.PutRecordTx(ctx, tx, w.key, w.objectType, payload); err != nil {
			return err
		}
	}
	writer := e.Events
	if writer.Now == nil {
		writer.Now = e.Now
	}
	if err := writer.Emit(ctx, tx, eventName, eventKey, actorID, eventPayload); err != nil {
		return err
	}
	return tx.Commit()
}

// required rejects with malformed_input when a mandatory field is empty.
func required(id string, fields ...[2]string) error {
	for _, f := range fields {
		if f[1] == "" {
			return reject(KindMalformedInput, id, "%s must not be empty", f[0])
		}
	}
	return nil
}

// ProvisionTag links a physical RFID tag to a batch.
func (e Engine) ProvisionTag(ctx context.Context, tagUID, batchID, provisionerID, metaHash string) (domain.Tag, error) {
	if err := required(tagUID, [2]string{"tagUID", tagUID}, [2]string{"batchID", batchID}, [2]string{"provisionerID", provisionerID}); err != nil {
		return domain.Tag{}, err
	}
	exists, err := e.Store.RecordExists(ctx, tagUID)
	if err != nil {
		return domain.Tag{}, err
	}
	if exists {
		return domain.Tag{}, alreadyExists(tagUID)
	}

	tag := domain.Tag{
		ObjectType:    domain.TypeTag,
		TagUID:        tagUID,
		BatchID:       batchID,
		ProvisionerID: provisionerID,
		MetaHash:      metaHash,
		Status:        domain.StatusProvisioned,
		Timestamp:     e.timestamp(),
		Owner:         provisionerID,
	}
	writes := []write{{tagUID, domain.TypeTag, tag}}
	if err := e.commit(ctx, writes, "TagProvisioned", tagUID, provisionerID, tag); err != nil {
		return domain.Tag{}, err
	}
	return tag, nil
}

// CollectionOptions are the parameters of a collection event.
type CollectionOptions struct {
	EventID     string
	CollectorID string
	Species     string
	Latitude    float64
	Longitude   float64
	BagIDs      []string
	MetaHash    string
	ActorID     string
}

// RecordCollectionEvent records a harvest and takes ownership of the
// referenced bags, creating bag records that do not exist yet.
func (e Engine) RecordCollectionEvent(ctx context.Context, opts CollectionOptions) (domain.CollectionEvent, error) {
	if opts.ActorID == "" {
		return domain.CollectionEvent{}, reject(KindUnauthenticated, opts.EventID, "caller identity unresolvable")
	}
	if err := required(opts.EventID, [2]string{"eventID", opts.EventID}, [2]string{"collectorID", opts.CollectorID}, [2]string{"species", opts.Species}); err != nil {
		return domain.CollectionEvent{}, err
	}
	exists, err := e.Store.RecordExists(ctx, opts.EventID)
	if err != nil {
		return domain.CollectionEvent{}, err
	}
	if exists {
		return domain.CollectionEvent{}, alreadyExists(opts.EventID)
	}

	allowed, err := e.AllowedSpecies(ctx)
	if err != nil {
		return domain.CollectionEvent{}, err
	}
	if !rules.SpeciesAllowed(allowed, opts.Species) {
		return domain.CollectionEvent{}, reject(KindSpeciesNotAllowed, opts.EventID, "species %s is not allowed for collection", opts.Species)
	}
	if !rules.GeoFenceAllowed(e.Config.GeoFences, opts.Species, opts.Latitude, opts.Longitude) {
		return domain.CollectionEvent{}, reject(KindGeoFenceViolation, opts.EventID, "collection location is outside the allowed geo-fence")
	}
	month := int(e.now().UTC().Month())
	if !rules.SeasonalWindowAllowed(e.Config.Seasons, opts.Species, month) {
		return domain.CollectionEvent{}, reject(KindSeasonalViolation, opts.EventID, "collection is outside the allowed seasonal window")
	}

	ts := e.timestamp()
	event := domain.CollectionEvent{
		ObjectType:  domain.TypeCollection,
		EventID:     opts.EventID,
		CollectorID: opts.CollectorID,
		Species:     opts.Species,
		Latitude:    opts.Latitude,
		Longitude:   opts.Longitude,
		BagIDs:      opts.BagIDs,
		MetaHash:    opts.MetaHash,
		Status:      domain.StatusRecorded,
		Timestamp:   ts,
		Owner:       opts.CollectorID,
	}
	writes := []write{{opts.EventID, domain.TypeCollection, event}}

	// Bag writes are unconditional: a bag with no prior record is created
	// here rather than rejected.
	for _, bagID := range opts.BagIDs {
		bag, err := e.getBag(ctx, bagID)
		if errors.Is(err, ledger.ErrNotFound) {
			bag = domain.Bag{ObjectType: domain.TypeBag, BagID: bagID, Timestamp: ts}
		} else if err != nil {
			return domain.CollectionEvent{}, err
		}
		bag.Owner = opts.CollectorID
		bag.Status = domain.StatusCollected
		bag.LastEvent = opts.EventID
		writes = append(writes, write{bagID, domain.TypeBag, bag})
	}

	if err := e.commit(ctx, writes, "CollectionEventRecorded", opts.EventID, opts.ActorID, event); err != nil {
		return domain.CollectionEvent{}, err
	}
	return event, nil
}

// TransportOptions are the parameters for grouping bags into a transport batch.
type TransportOptions struct {
	BatchID       string
	BagIDs        []string
	TransporterID string
	TruckID       string
	MetaHash      string
	ActorID       string
}

// CreateTransportBatch groups bags for transport and moves them in_transit.
func (e Engine) CreateTransportBatch(ctx context.Context, opts TransportOptions) (domain.Batch, error) {
	if err := required(opts.BatchID, [2]string{"batchID", opts.BatchID}, [2]string{"transporterID", opts.TransporterID}); err != nil {
		return domain.Batch{}, err
	}
	if len(opts.BagIDs) == 0 {
		return domain.Batch{}, reject(KindMalformedInput, opts.BatchID, "bagIDs must not be empty")
	}
	exists, err := e.Store.RecordExists(ctx, opts.BatchID)
	if err != nil {
		return domain.Batch{}, err
	}
	if exists {
		return domain.Batch{}, alreadyExists(opts.BatchID)
	}

	bags := make([]domain.Bag, 0, len(opts.BagIDs))
	for _, bagID := range opts.BagIDs {
		bag, err := e.getBag(ctx, bagID)
		if errors.Is(err, ledger.ErrNotFound) {
			return domain.Batch{}, notFound(bagID)
		}
		if err != nil {
			return domain.Batch{}, err
		}
		if bag.Status != domain.StatusProvisioned && bag.Status != domain.StatusCollected {
			return domain.Batch{}, reject(KindInvalidState, bagID, "bag is not available for transport (status: %s)", bag.Status)
		}
		bags = append(bags, bag)
	}

	batch := domain.Batch{
		ObjectType:    domain.TypeTransportBatch,
		BatchID:       opts.BatchID,
		BagIDs:        opts.BagIDs,
		TransporterID: opts.TransporterID,
		TruckID:       opts.TruckID,
		MetaHash:      opts.MetaHash,
		Status:        domain.StatusInTransit,
		Timestamp:     e.timestamp(),
		Owner:         opts.TransporterID,
		ParentBags:    opts.BagIDs,
	}
	writes := []write{{opts.BatchID, domain.TypeTransportBatch, batch}}
	for _, bag := range bags {
		bag.Status = domain.StatusInTransit
		bag.CurrentBatch = opts.BatchID
		writes = append(writes, write{bag.BagID, domain.TypeBag, bag})
	}

	actor := opts.ActorID
	if actor == "" {
		actor = opts.TransporterID
	}
	if err := e.commit(ctx, writes, "TransportBatchCreated", opts.BatchID, actor, batch); err != nil {
		return domain.Batch{}, err
	}
	return batch, nil
}

// ProcessOptions are the parameters for consuming transport batches into a
// processed batch.
type ProcessOptions struct {
	InputBatchIDs []string
	OutputBatchID string
	ProcessorID   string
	MetaHash      string
	ActorID       string
}

// CreateProcessedBatch consumes the input batches and aggregates their bags
// into a new processed batch.
func (e Engine) CreateProcessedBatch(ctx context.Context, opts ProcessOptions) (domain.Batch, error) {
	if err := required(opts.OutputBatchID, [2]string{"outputBatchID", opts.OutputBatchID}, [2]string{"processorID", opts.ProcessorID}); err != nil {
		return domain.Batch{}, err
	}
	if len(opts.InputBatchIDs) == 0 {
		return domain.Batch{}, reject(KindMalformedInput, opts.OutputBatchID, "inputBatchIDs must not be empty")
	}
	exists, err := e.Store.RecordExists(ctx, opts.OutputBatchID)
	if err != nil {
		return domain.Batch{}, err
	}
	if exists {
		return domain.Batch{}, alreadyExists(opts.OutputBatchID)
	}

	ts := e.timestamp()
	var inputBags []string
	inputs := make([]domain.Batch, 0, len(opts.InputBatchIDs))
	for _, batchID := range opts.InputBatchIDs {
		batch, err := e.getBatch(ctx, batchID)
		if err != nil {
			return domain.Batch{}, err
		}
		if batch.Status != domain.StatusInTransit && batch.Status != domain.StatusDelivered {
			return domain.Batch{}, reject(KindInvalidState, batchID, "batch is not available for processing (status: %s)", batch.Status)
		}
		inputBags = append(inputBags, batch.BagIDs...)
		inputs = append(inputs, batch)
	}

	processed := domain.Batch{
		ObjectType:    domain.TypeProcessedBatch,
		BatchID:       opts.OutputBatchID,
		ProcessorID:   opts.ProcessorID,
		InputBatches:  opts.InputBatchIDs,
		InputBags:     inputBags,
		MetaHash:      opts.MetaHash,
		Status:        domain.StatusProcessed,
		Timestamp:     ts,
		Owner:         opts.ProcessorID,
		ParentBatches: opts.InputBatchIDs,
	}
	writes := []write{{opts.OutputBatchID, domain.TypeProcessedBatch, processed}}
	for _, batch := range inputs {
		batch.Status = domain.StatusConsumed
		batch.LastStatusUpdate = ts
		writes = append(writes, write{batch.BatchID, batch.ObjectType, batch})
	}

	actor := opts.ActorID
	if actor == "" {
		actor = opts.ProcessorID
	}
	if err := e.commit(ctx, writes, "ProcessedBatchCreated", opts.OutputBatchID, actor, processed); err != nil {
		return domain.Batch{}, err
	}
	return processed, nil
}

// StepOptions are the parameters of a processing-step annotation.
type StepOptions struct {
	StepID     string
	BatchID    string
	Operation  string
	Parameters map[string]any
	OperatorID string
	MetaHash   string
}

// RecordProcessingStep attaches an annotation to a batch without touching
// its status or ownership.
func (e Engine) RecordProcessingStep(ctx context.Context, opts StepOptions) (domain.ProcessingStep, error) {
	if err := required(opts.StepID, [2]string{"stepID", opts.StepID}, [2]string{"batchID", opts.BatchID}, [2]string{"operation", opts.Operation}); err != nil {
		return domain.ProcessingStep{}, err
	}
	exists, err := e.Store.RecordExists(ctx, opts.StepID)
	if err != nil {
		return domain.ProcessingStep{}, err
	}
	if exists {
		return domain.ProcessingStep{}, alreadyExists(opts.StepID)
	}
	if _, err := e.getBatch(ctx, opts.BatchID); err != nil {
		return domain.ProcessingStep{}, err
	}

	step := domain.ProcessingStep{
		ObjectType: domain.TypeProcessingStep,
		StepID:     opts.StepID,
		BatchID:    opts.BatchID,
		Operation:  opts.Operation,
		Parameters: opts.Parameters,
		OperatorID: opts.OperatorID,
		MetaHash:   opts.MetaHash,
		Timestamp:  e.timestamp(),
		Owner:      opts.OperatorID,
	}
	writes := []write{{opts.StepID, domain.TypeProcessingStep, step}}
	if err := e.commit(ctx, writes, "ProcessingStepRecorded", opts.StepID, opts.OperatorID, step); err != nil {
		return domain.ProcessingStep{}, err
	}
	return step, nil
}

// QualityTestOptions are the parameters of a lab test submission.
type QualityTestOptions struct {
	TestID      string
	BatchID     string
	LabID       string
	TestResults []domain.TestResult
	MetaHash    string
}

// RecordQualityTest evaluates the quality gates and moves the batch to
// approved or quarantined accordingly.
func (e Engine) RecordQualityTest(ctx context.Context, opts QualityTestOptions) (domain.QualityTest, error) {
	if err := required(opts.TestID, [2]string{"testID", opts.TestID}, [2]string{"batchID", opts.BatchID}, [2]string{"labID", opts.LabID}); err != nil {
		return domain.QualityTest{}, err
	}
	if len(opts.TestResults) == 0 {
		return domain.QualityTest{}, reject(KindMalformedInput, opts.TestID, "testResults must not be empty")
	}
	exists, err := e.Store.RecordExists(ctx, opts.TestID)
	if err != nil {
		return domain.QualityTest{}, err
	}
	if exists {
		return domain.QualityTest{}, alreadyExists(opts.TestID)
	}
	batch, err := e.getBatch(ctx, opts.BatchID)
	if err != nil {
		return domain.QualityTest{}, err
	}

	ts := e.timestamp()
	overallPass := rules.EvaluateQualityGates(opts.TestResults)
	test := domain.QualityTest{
		ObjectType:  domain.TypeQualityTest,
		TestID:      opts.TestID,
		BatchID:     opts.BatchID,
		LabID:       opts.LabID,
		TestResults: opts.TestResults,
		OverallPass: overallPass,
		MetaHash:    opts.MetaHash,
		Timestamp:   ts,
		Owner:       opts.LabID,
	}
	if overallPass {
		batch.Status = domain.StatusApproved
	} else {
		batch.Status = domain.StatusQuarantined
	}
	batch.LastStatusUpdate = ts

	writes := []write{
		{opts.TestID, domain.TypeQualityTest, test},
		{batch.BatchID, batch.ObjectType, batch},
	}
	if err := e.commit(ctx, writes, "QualityTestRecorded", opts.TestID, opts.LabID, test); err != nil {
		return domain.QualityTest{}, err
	}
	return test, nil
}

// GenerateSmartLabel issues a signed label for an approved batch. The label
// key carries a random suffix so repeated calls within one millisecond
// cannot collide.
func (e Engine) GenerateSmartLabel(ctx context.Context, batchID string, labelMeta map[string]any, issuer string) (domain.SmartLabel, error) {
	if issuer == "" {
		return domain.SmartLabel{}, reject(KindUnauthenticated, batchID, "caller identity unresolvable")
	}
	batch, err := e.getBatch(ctx, batchID)
	if err != nil {
		return domain.SmartLabel{}, err
	}
	if batch.Status != domain.StatusApproved {
		return domain.SmartLabel{}, reject(KindNotApproved, batchID, "batch is not approved for labeling (status: %s)", batch.Status)
	}

	now := e.now().UTC()
	labelData := domain.LabelData{
		BatchID:   batchID,
		LabelMeta: labelMeta,
		Timestamp: now.Format(time.RFC3339),
		Issuer:    issuer,
	}
	payload, err := json.Marshal(labelData)
	if err != nil {
		return domain.SmartLabel{}, err
	}
	sum := sha256.Sum256(payload)

	label := domain.SmartLabel{
		ObjectType: domain.TypeSmartLabel,
		LabelID:    fmt.Sprintf("label_%s_%d_%s", batchID, now.UnixMilli(), uuid.NewString()[:8]),
		BatchID:    batchID,
		LabelData:  labelData,
		Signature:  hex.EncodeToString(sum[:]),
		Timestamp:  now.Format(time.RFC3339),
	}
	writes := []write{{label.LabelID, domain.TypeSmartLabel, label}}
	if err := e.commit(ctx, writes, "SmartLabelGenerated", label.LabelID, issuer, label); err != nil {
		return domain.SmartLabel{}, err
	}
	return label, nil
}

// TransferBatch moves batch ownership between organizations, appending to
// the batch's transfer history.
func (e Engine) TransferBatch(ctx context.Context, batchID, fromOrg, toOrg string) (domain.Batch, error) {
	if err := required(batchID, [2]string{"fromOrg", fromOrg}, [2]string{"toOrg", toOrg}); err != nil {
		return domain.Batch{}, err
	}
	batch, err := e.getBatch(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}
	if batch.Owner != fromOrg {
		return domain.Batch{}, reject(KindNotOwner, batchID, "batch is not owned by %s", fromOrg)
	}

	ts := e.timestamp()
	batch.Owner = toOrg
	batch.TransferHistory = append(batch.TransferHistory, domain.Transfer{From: fromOrg, To: toOrg, Timestamp: ts})

	writes := []write{{batchID, batch.ObjectType, batch}}
	summary := map[string]any{"batchID": batchID, "from": fromOrg, "to": toOrg, "timestamp": ts}
	if err := e.commit(ctx, writes, "BatchTransferred", batchID, fromOrg, summary); err != nil {
		return domain.Batch{}, err
	}
	return batch, nil
}

// FlagQuarantine forces a batch into quarantine regardless of its current
// status.
func (e Engine) FlagQuarantine(ctx context.Context, batchID, reason, actorID string) (domain.Batch, error) {
	batch, err := e.getBatch(ctx, batchID)
	if err != nil {
		return domain.Batch{}, err
	}

	ts := e.timestamp()
	batch.Status = domain.StatusQuarantined
	batch.QuarantineReason = reason
	batch.QuarantineTimestamp = ts

	writes := []write{{batchID, batch.ObjectType, batch}}
	summary := map[string]any{"batchID": batchID, "reason": reason, "timestamp": ts}
	if err := e.commit(ctx, writes, "BatchQuarantined", batchID, actorID, summary); err != nil {
		return domain.Batch{}, err
	}
	return batch, nil
}

// TriggerRecall records a recall and marks the batch recalled. Recall is
// terminal and reachable from any state.
func (e Engine) TriggerRecall(ctx context.Context, batchID, reason string, recallMeta map[string]any, initiator string) (domain.Recall, error) {
	if initiator == "" {
		return domain.Recall{}, reject(KindUnauthenticated, batchID, "caller identity unresolvable")
	}
	batch, err := e.getBatch(ctx, batchID)
	if err != nil {
		return domain.Recall{}, err
	}

	now := e.now().UTC()
	ts := now.Format(time.RFC3339)
	recall := domain.Recall{
		ObjectType: domain.TypeRecall,
		RecallID:   fmt.Sprintf("recall_%s_%d_%s", batchID, now.UnixMilli(), uuid.NewString()[:8]),
		BatchID:    batchID,
		Reason:     reason,
		RecallMeta: recallMeta,
		Timestamp:  ts,
		Initiator:  initiator,
	}
	batch.Status = domain.StatusRecalled
	batch.LastStatusUpdate = ts

	writes := []write{
		{recall.RecallID, domain.TypeRecall, recall},
		{batchID, batch.ObjectType, batch},
	}
	if err := e.commit(ctx, writes, "RecallTriggered", recall.RecallID, initiator, recall); err != nil {
		return domain.Recall{}, err
	}
	return recall, nil
}

// QueryAsset returns the raw record stored under assetID.
func (e Engine) QueryAsset(ctx context.Context, assetID string) (ledger.KeyRecord, error) {
	raw, err := e.Store.GetRecord(ctx, assetID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.KeyRecord{}, notFound(assetID)
	}
	if err != nil {
		return ledger.KeyRecord{}, err
	}
	return ledger.KeyRecord{Key: assetID, Record: raw}, nil
}

// QueryAssetsByType lists all records of one object type. Order is not
// guaranteed.
func (e Engine) QueryAssetsByType(ctx context.Context, objectType string) ([]ledger.KeyRecord, error) {
	return e.Store.QueryByType(ctx, objectType)
}

// QueryLineage resolves the full ancestor tree of a batch.
func (e Engine) QueryLineage(ctx context.Context, batchID string) (lineage.Node, error) {
	return lineage.Build(ctx, e.Store.GetRecord, batchID, nil)
}

// AllowedSpecies loads the sentinel species list from the ledger.
func (e Engine) AllowedSpecies(ctx context.Context) ([]string, error) {
	raw, err := e.Store.GetRecord(ctx, domain.SpeciesListKey)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, notFound(domain.SpeciesListKey)
	}
	if err != nil {
		return nil, err
	}
	var list domain.SpeciesList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list.Species, nil
}

func (e Engine) getBag(ctx context.Context, bagID string) (domain.Bag, error) {
	raw, err := e.Store.GetRecord(ctx, bagID)
	if err != nil {
		return domain.Bag{}, err
	}
	var bag domain.Bag
	if err := json.Unmarshal(raw, &bag); err != nil {
		return domain.Bag{}, err
	}
	if bag.BagID == "" {
		bag.BagID = bagID
	}
	bag.ObjectType = domain.TypeBag
	return bag, nil
}

func (e Engine) getBatch(ctx context.Context, batchID string) (domain.Batch, error) {
	raw, err := e.Store.GetRecord(ctx, batchID)
	if errors.Is(err, ledger.ErrNotFound) {
		return domain.Batch{}, notFound(batchID)
	}
	if err != nil {
		return domain.Batch{}, err
	}
	var batch domain.Batch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return domain.Batch{}, err
	}
	if !domain.IsBatchType(batch.ObjectType) {
		return domain.Batch{}, reject(KindInvalidState, batchID, "record is a %s, not a batch", batch.ObjectType)
	}
	return batch, nil
}
