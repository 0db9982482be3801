package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"herbledger/internal/app"
	"herbledger/internal/config"
	"herbledger/internal/db"
	"herbledger/internal/domain"
	"herbledger/internal/engine"
	"herbledger/internal/ledger"
	"herbledger/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := app.Seed(ctx, eng); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func rejectionKind(t *testing.T, err error) engine.Kind {
	t.Helper()
	var e *engine.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected rejection, got %v", err)
	}
	return e.Kind
}

func collect(t *testing.T, env testEnv, eventID string, bagIDs ...string) domain.CollectionEvent {
	t.Helper()
	event, err := env.Engine.RecordCollectionEvent(env.Ctx, engine.CollectionOptions{
		EventID:     eventID,
		CollectorID: "collector-1",
		Species:     "Withania somnifera",
		Latitude:    25.0,
		Longitude:   80.0,
		BagIDs:      bagIDs,
		ActorID:     "collector-1",
	})
	if err != nil {
		t.Fatalf("record collection: %v", err)
	}
	return event
}

func TestProvisionTagDuplicate(t *testing.T) {
	env := newTestEnv(t)
	tag, err := env.Engine.ProvisionTag(env.Ctx, "tag-1", "batch-1", "maker-1", "abc")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if tag.Status != domain.StatusProvisioned || tag.Owner != "maker-1" {
		t.Fatalf("unexpected tag: %+v", tag)
	}
	before, err := env.Engine.Store.CountRecords(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ProvisionTag(env.Ctx, "tag-1", "batch-2", "maker-2", "def")
	if kind := rejectionKind(t, err); kind != engine.KindAlreadyExists {
		t.Fatalf("expected already_exists, got %s", kind)
	}
	after, err := env.Engine.Store.CountRecords(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Fatalf("rejected provision wrote records: %d -> %d", before, after)
	}
}

func TestCollectionGeoFenceRejectionWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordCollectionEvent(env.Ctx, engine.CollectionOptions{
		EventID:     "event-geo",
		CollectorID: "collector-1",
		Species:     "Withania somnifera",
		Latitude:    50.0,
		Longitude:   80.0,
		BagIDs:      []string{"bag-geo"},
		ActorID:     "collector-1",
	})
	if kind := rejectionKind(t, err); kind != engine.KindGeoFenceViolation {
		t.Fatalf("expected geo_fence_violation, got %s", kind)
	}
	for _, key := range []string{"event-geo", "bag-geo"} {
		if _, err := env.Engine.Store.GetRecord(env.Ctx, key); !errors.Is(err, ledger.ErrNotFound) {
			t.Fatalf("expected no record for %s, got %v", key, err)
		}
	}
}

func TestCollectionSpeciesAndSeason(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordCollectionEvent(env.Ctx, engine.CollectionOptions{
		EventID: "event-sp", CollectorID: "c", Species: "Atropa belladonna", ActorID: "c",
	})
	if kind := rejectionKind(t, err); kind != engine.KindSpeciesNotAllowed {
		t.Fatalf("expected species_not_allowed, got %s", kind)
	}
	// June is outside the Withania window
	env.Engine.Now = func() time.Time { return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC) }
	_, err = env.Engine.RecordCollectionEvent(env.Ctx, engine.CollectionOptions{
		EventID: "event-season", CollectorID: "c", Species: "Withania somnifera",
		Latitude: 25, Longitude: 80, ActorID: "c",
	})
	if kind := rejectionKind(t, err); kind != engine.KindSeasonalViolation {
		t.Fatalf("expected seasonal_violation, got %s", kind)
	}
}

func TestMalformedInputRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.ProvisionTag(env.Ctx, "", "batch-1", "maker-1", "abc")
	if kind := rejectionKind(t, err); kind != engine.KindMalformedInput {
		t.Fatalf("expected malformed_input for empty tagUID, got %s", kind)
	}

	_, err = env.Engine.RecordCollectionEvent(env.Ctx, engine.CollectionOptions{
		EventID:     "event-nospecies",
		CollectorID: "collector-1",
		Latitude:    25.0,
		Longitude:   80.0,
		BagIDs:      []string{"bag-1"},
		ActorID:     "collector-1",
	})
	if kind := rejectionKind(t, err); kind != engine.KindMalformedInput {
		t.Fatalf("expected malformed_input for empty species, got %s", kind)
	}

	_, err = env.Engine.RecordQualityTest(env.Ctx, engine.QualityTestOptions{
		TestID:  "qt-empty",
		BatchID: "batch-1",
		LabID:   "lab-1",
	})
	if kind := rejectionKind(t, err); kind != engine.KindMalformedInput {
		t.Fatalf("expected malformed_input for empty testResults, got %s", kind)
	}

	n, err := env.Engine.Store.CountRecords(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("rejected calls wrote records beyond the seeded pair: %d", n)
	}
}

func TestCollectionAcceptsEmptyBagList(t *testing.T) {
	env := newTestEnv(t)
	event, err := env.Engine.RecordCollectionEvent(env.Ctx, engine.CollectionOptions{
		EventID:     "event-bagless",
		CollectorID: "collector-1",
		Species:     "Withania somnifera",
		Latitude:    25.0,
		Longitude:   80.0,
		ActorID:     "collector-1",
	})
	if err != nil {
		t.Fatalf("bagless collection: %v", err)
	}
	if event.Status != domain.StatusRecorded || len(event.BagIDs) != 0 {
		t.Fatalf("unexpected event: %+v", event)
	}
	bags, err := env.Engine.QueryAssetsByType(env.Ctx, domain.TypeBag)
	if err != nil {
		t.Fatal(err)
	}
	if len(bags) != 0 {
		t.Fatalf("bagless collection wrote bags: %d", len(bags))
	}
}

func TestCollectionUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RecordCollectionEvent(env.Ctx, engine.CollectionOptions{
		EventID: "event-anon", CollectorID: "c", Species: "Withania somnifera",
		Latitude: 25, Longitude: 80,
	})
	if kind := rejectionKind(t, err); kind != engine.KindUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", kind)
	}
}

func TestCollectionCreatesBags(t *testing.T) {
	env := newTestEnv(t)
	collect(t, env, "event-1", "bag-1", "bag-2")
	for _, bagID := range []string{"bag-1", "bag-2"} {
		rec, err := env.Engine.QueryAsset(env.Ctx, bagID)
		if err != nil {
			t.Fatalf("bag %s: %v", bagID, err)
		}
		if rec.Key != bagID {
			t.Fatalf("unexpected key %s", rec.Key)
		}
	}
	bags, err := env.Engine.QueryAssetsByType(env.Ctx, domain.TypeBag)
	if err != nil {
		t.Fatal(err)
	}
	if len(bags) != 2 {
		t.Fatalf("expected 2 bags, got %d", len(bags))
	}
}

func TestTransportBatchRequiresAvailableBags(t *testing.T) {
	env := newTestEnv(t)
	collect(t, env, "event-1", "bag-1")
	_, err := env.Engine.CreateTransportBatch(env.Ctx, engine.TransportOptions{
		BatchID: "tb-1", BagIDs: []string{"bag-1"}, TransporterID: "trans-1",
	})
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	// bag now in_transit, cannot join a second batch
	_, err = env.Engine.CreateTransportBatch(env.Ctx, engine.TransportOptions{
		BatchID: "tb-2", BagIDs: []string{"bag-1"}, TransporterID: "trans-1",
	})
	if kind := rejectionKind(t, err); kind != engine.KindInvalidState {
		t.Fatalf("expected invalid_state, got %s", kind)
	}
	// unknown bag
	_, err = env.Engine.CreateTransportBatch(env.Ctx, engine.TransportOptions{
		BatchID: "tb-3", BagIDs: []string{"bag-missing"}, TransporterID: "trans-1",
	})
	if kind := rejectionKind(t, err); kind != engine.KindNotFound {
		t.Fatalf("expected not_found, got %s", kind)
	}
}

func TestProcessedBatchConsumesInputs(t *testing.T) {
	env := newTestEnv(t)
	collect(t, env, "event-1", "bag-1", "bag-2")
	collect(t, env, "event-2", "bag-3")
	if _, err := env.Engine.CreateTransportBatch(env.Ctx, engine.TransportOptions{
		BatchID: "tb-1", BagIDs: []string{"bag-1", "bag-2"}, TransporterID: "trans-1",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTransportBatch(env.Ctx, engine.TransportOptions{
		BatchID: "tb-2", BagIDs: []string{"bag-3"}, TransporterID: "trans-1",
	}); err != nil {
		t.Fatal(err)
	}
	pb, err := env.Engine.CreateProcessedBatch(env.Ctx, engine.ProcessOptions{
		InputBatchIDs: []string{"tb-1", "tb-2"}, OutputBatchID: "pb-1", ProcessorID: "proc-1",
	})
	if err != nil {
		t.Fatalf("create processed: %v", err)
	}
	if pb.Status != domain.StatusProcessed || pb.Owner != "proc-1" {
		t.Fatalf("unexpected processed batch: %+v", pb)
	}
	if len(pb.InputBags) != 3 {
		t.Fatalf("expected 3 aggregated bags, got %v", pb.InputBags)
	}
	for _, id := range []string{"tb-1", "tb-2"} {
		rec, err := env.Engine.QueryAsset(env.Ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		var batch domain.Batch
		if err := json.Unmarshal(rec.Record, &batch); err != nil {
			t.Fatal(err)
		}
		if batch.Status != domain.StatusConsumed {
			t.Fatalf("input %s not consumed: %s", id, batch.Status)
		}
	}
	// consumed inputs cannot be consumed again
	_, err = env.Engine.CreateProcessedBatch(env.Ctx, engine.ProcessOptions{
		InputBatchIDs: []string{"tb-1"}, OutputBatchID: "pb-2", ProcessorID: "proc-1",
	})
	if kind := rejectionKind(t, err); kind != engine.KindInvalidState {
		t.Fatalf("expected invalid_state, got %s", kind)
	}
}

func TestQualityTestGates(t *testing.T) {
	env := newTestEnv(t)
	collect(t, env, "event-1", "bag-1")
	if _, err := env.Engine.CreateTransportBatch(env.Ctx, engine.TransportOptions{
		BatchID: "tb-1", BagIDs: []string{"bag-1"}, TransporterID: "trans-1",
	}); err != nil {
		t.Fatal(err)
	}
	test, err := env.Engine.RecordQualityTest(env.Ctx, engine.QualityTestOptions{
		TestID: "qt-1", BatchID: "tb-1", LabID: "lab-1",
		TestResults: []domain.TestResult{{Name: "moisture", Value: 10.0}, {Name: "contamination", Value: 0.1}},
	})
	if err != nil {
		t.Fatalf("quality test: %v", err)
	}
	if !test.OverallPass {
		t.Fatalf("limits are inclusive, expected pass")
	}
	batch := queryBatch(t, env, "tb-1")
	if batch.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", batch.Status)
	}
	// a failing reading quarantines
	if _, err := env.Engine.RecordQualityTest(env.Ctx, engine.QualityTestOptions{
		TestID: "qt-2", BatchID: "tb-1", LabID: "lab-1",
		TestResults: []domain.TestResult{{Name: "moisture", Value: 10.01}},
	}); err != nil {
		t.Fatal(err)
	}
	batch = queryBatch(t, env, "tb-1")
	if batch.Status != domain.StatusQuarantined {
		t.Fatalf("expected quarantined, got %s", batch.Status)
	}
}

func TestSmartLabelRequiresApproval(t *testing.T) {
	env := newTestEnv(t)
	collect(t, env, "event-1", "bag-1")
	if _, err := env.Engine.CreateTransportBatch(env.Ctx, engine.TransportOptions{
		BatchID: "tb-1", BagIDs: []string{"bag-1"}, TransporterID: "trans-1",
	}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.GenerateSmartLabel(env.Ctx, "tb-1", nil, "issuer-1")
	if kind := rejectionKind(t, err); kind != engine.KindNotApproved {
		t.Fatalf("expected not_approved, got %s", kind)
	}
	if _, err := env.Engine.RecordQualityTest(env.Ctx, engine.QualityTestOptions{
		TestID: "qt-1", BatchID: "tb-1", LabID: "lab-1",
		TestResults: []domain.TestResult{{Name: "moisture", Value: 5}},
	}); err != nil {
		t.Fatal(err)
	}
	label, err := env.Engine.GenerateSmartLabel(env.Ctx, "tb-1", map[string]any{"lot": "A"}, "issuer-1")
	if err != nil {
		t.Fatalf("label: %v", err)
	}
	if len(label.Signature) != 64 {
		t.Fatalf("expected sha-256 hex signature, got %q", label.Signature)
	}
	if label.LabelData.Issuer != "issuer-1" || label.BatchID != "tb-1" {
		t.Fatalf("unexpected label: %+v", label)
	}
}

func TestTransferBatchOwnership(t *testing.T) {
	env := newTestEnv(t)
	collect(t, env, "event-1", "bag-1")
	if _, err := env.Engine.CreateTransportBatch(env.Ctx, engine.TransportOptions{
		BatchID: "tb-1", BagIDs: []string{"bag-1"}, TransporterID: "trans-1",
	}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.TransferBatch(env.Ctx, "tb-1", "someone-else", "org-b")
	if kind := rejectionKind(t, err); kind != engine.KindNotOwner {
		t.Fatalf("expected not_owner, got %s", kind)
	}
	batch, err := env.Engine.TransferBatch(env.Ctx, "tb-1", "trans-1", "org-b")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if batch.Owner != "org-b" || len(batch.TransferHistory) != 1 {
		t.Fatalf("unexpected batch after transfer: %+v", batch)
	}
}

func TestQuarantineAndRecall(t *testing.T) {
	env := newTestEnv(t)
	collect(t, env, "event-1", "bag-1")
	if _, err := env.Engine.CreateTransportBatch(env.Ctx, engine.TransportOptions{
		BatchID: "tb-1", BagIDs: []string{"bag-1"}, TransporterID: "trans-1",
	}); err != nil {
		t.Fatal(err)
	}
	batch, err := env.Engine.FlagQuarantine(env.Ctx, "tb-1", "suspect pallet", "inspector-1")
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if batch.Status != domain.StatusQuarantined || batch.QuarantineReason != "suspect pallet" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	recall, err := env.Engine.TriggerRecall(env.Ctx, "tb-1", "contaminated lot", nil, "authority-1")
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if recall.BatchID != "tb-1" || recall.Initiator != "authority-1" {
		t.Fatalf("unexpected recall: %+v", recall)
	}
	if queryBatch(t, env, "tb-1").Status != domain.StatusRecalled {
		t.Fatalf("batch not recalled")
	}
	rec, err := env.Engine.QueryAsset(env.Ctx, recall.RecallID)
	if err != nil {
		t.Fatalf("recall record: %v", err)
	}
	if rec.Key != recall.RecallID {
		t.Fatalf("unexpected key %s", rec.Key)
	}
}

func TestLineageTree(t *testing.T) {
	env := newTestEnv(t)
	collect(t, env, "event-1", "bag-1", "bag-2")
	if _, err := env.Engine.CreateTransportBatch(env.Ctx, engine.TransportOptions{
		BatchID: "tb-1", BagIDs: []string{"bag-1", "bag-2"}, TransporterID: "trans-1",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateProcessedBatch(env.Ctx, engine.ProcessOptions{
		InputBatchIDs: []string{"tb-1"}, OutputBatchID: "pb-1", ProcessorID: "proc-1",
	}); err != nil {
		t.Fatal(err)
	}
	node, err := env.Engine.QueryLineage(env.Ctx, "pb-1")
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if node.BatchID != "pb-1" || node.Type != domain.TypeProcessedBatch {
		t.Fatalf("unexpected root: %+v", node)
	}
	if len(node.Parents) != 1 || node.Parents[0].BatchID != "tb-1" {
		t.Fatalf("expected tb-1 parent, got %+v", node.Parents)
	}
	if len(node.Parents[0].Parents) != 2 {
		t.Fatalf("expected 2 bag leaves, got %+v", node.Parents[0].Parents)
	}
}

func TestEventAppendedPerMutation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ProvisionTag(env.Ctx, "tag-1", "tb-1", "maker-1", ""); err != nil {
		t.Fatal(err)
	}
	collect(t, env, "event-1", "bag-1")
	if _, err := env.Engine.CreateTransportBatch(env.Ctx, engine.TransportOptions{
		BatchID: "tb-1", BagIDs: []string{"bag-1"}, TransporterID: "trans-1",
	}); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Store.LatestEvents(env.Ctx, 10, "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	names := map[string]bool{}
	for _, ev := range events {
		names[ev.Name] = true
	}
	for _, want := range []string{"TagProvisioned", "CollectionEventRecorded", "TransportBatchCreated"} {
		if !names[want] {
			t.Fatalf("missing event %s", want)
		}
	}
}

func queryBatch(t *testing.T, env testEnv, batchID string) domain.Batch {
	t.Helper()
	rec, err := env.Engine.QueryAsset(env.Ctx, batchID)
	if err != nil {
		t.Fatalf("query %s: %v", batchID, err)
	}
	var batch domain.Batch
	if err := json.Unmarshal(rec.Record, &batch); err != nil {
		t.Fatalf("decode %s: %v", batchID, err)
	}
	return batch
}
