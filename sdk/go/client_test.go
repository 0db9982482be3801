package herbledgersdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewInitializesHTTPClient(t *testing.T) {
	c := New("http://localhost:9999")
	if c.HTTPClient == nil {
		t.Fatal("expected HTTPClient to be set")
	}
}

func TestDoDoesNotMutateClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "hbk_test" {
			t.Errorf("missing api key header")
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "hbk_test"}
	if err := c.do(context.Background(), http.MethodGet, "/v0/health", nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if c.HTTPClient != nil {
		t.Fatal("do must not assign the shared client field")
	}
}
