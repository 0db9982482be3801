package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"herbledger/internal/app"
	"herbledger/internal/config"
	"herbledger/internal/db"
	"herbledger/internal/domain"
	"herbledger/internal/engine"
	"herbledger/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC) }
	if err := app.Seed(context.Background(), e); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func TestSupplyChainFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/collections", map[string]any{
		"eventID":   "event-1",
		"species":   "Withania somnifera",
		"latitude":  25.0,
		"longitude": 80.0,
		"bagIDs":    []string{"bag-1", "bag-2"},
	}, asActor("collector-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("collection status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/transports", map[string]any{
		"batchID": "tb-1",
		"bagIDs":  []string{"bag-1", "bag-2"},
	}, asActor("trans-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("transport status %d: %s", res.StatusCode, string(data))
	}
	var tb domain.Batch
	if err := json.Unmarshal(data, &tb); err != nil {
		t.Fatalf("unmarshal transport batch: %v", err)
	}
	if tb.TransporterID != "trans-1" || tb.Owner != "trans-1" {
		t.Fatalf("expected omitted transporter to default to the caller, got %+v", tb)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quality-tests", map[string]any{
		"testID":  "qt-1",
		"batchID": "tb-1",
		"labID":   "lab-1",
		"testResults": []map[string]any{
			{"name": "moisture", "value": 8.2},
		},
	}, asActor("lab-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("quality test status %d: %s", res.StatusCode, string(data))
	}
	var test domain.QualityTest
	if err := json.Unmarshal(data, &test); err != nil {
		t.Fatalf("unmarshal test: %v", err)
	}
	if !test.OverallPass {
		t.Fatalf("expected pass: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/batches/tb-1/label", map[string]any{
		"labelMeta": map[string]any{"lot": "A"},
	}, asActor("issuer-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("label status %d: %s", res.StatusCode, string(data))
	}
	var label domain.SmartLabel
	if err := json.Unmarshal(data, &label); err != nil {
		t.Fatalf("unmarshal label: %v", err)
	}
	if len(label.Signature) != 64 {
		t.Fatalf("expected signature, got %q", label.Signature)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/batches/tb-1/lineage", nil, asActor("anyone"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("lineage status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/assets?type=bag", nil, asActor("anyone"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assets status %d: %s", res.StatusCode, string(data))
	}
	var assets []AssetResponse
	if err := json.Unmarshal(data, &assets); err != nil {
		t.Fatalf("unmarshal assets: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 bags, got %d", len(assets))
	}
}

func TestRuleViolationMapsTo422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/collections", map[string]any{
		"eventID":   "event-geo",
		"species":   "Withania somnifera",
		"latitude":  50.0,
		"longitude": 80.0,
	}, asActor("collector-1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "geo_fence_violation" {
		t.Fatalf("expected geo_fence_violation, got %q", envelope.Error.Code)
	}
}

func TestDuplicateCreateMapsTo409(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	body := map[string]any{"tagUID": "tag-1", "batchID": "b-1"}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tags", body, asActor("maker-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first provision status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tags", body, asActor("maker-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/assets?type=bag", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{
		"actor_id": "collector-1",
		"name":     "field device",
	}, asActor("admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" {
		t.Fatalf("expected secret in create response")
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/collections", map[string]any{
		"eventID":   "event-key",
		"species":   "Withania somnifera",
		"latitude":  25.0,
		"longitude": 80.0,
	}, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("collection via api key status %d: %s", res.StatusCode, string(data))
	}
	var event domain.CollectionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.CollectorID != "collector-1" {
		t.Fatalf("expected key actor as collector, got %q", event.CollectorID)
	}
}
