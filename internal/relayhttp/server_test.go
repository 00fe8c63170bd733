package relayhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clsrelay/internal/relay"
	"clsrelay/internal/token"
	"clsrelay/pkg/logx"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{Enabled: true}, logx.Nop())
	s.now = func() time.Time { return testNow }
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func testPayload(expiresAt time.Time) relay.Payload {
	return relay.NewPayload(token.Record{
		Value:     "t-abc",
		IssuedAt:  expiresAt.Add(-2 * time.Hour),
		ExpiresAt: expiresAt,
		Source:    "feishu-tenant",
	}, relay.KindServerless)
}

func postJSON(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestGetBeforeAnyPost(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	res, err := http.Get(ts.URL + "/token")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestPostThenGet(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	p := testPayload(testNow.Add(time.Hour))
	body, _ := json.Marshal(p)
	if res := postJSON(t, ts.URL+"/token", body); res.StatusCode != http.StatusOK {
		t.Fatalf("POST status = %d, want 200", res.StatusCode)
	}

	res, err := http.Get(ts.URL + "/token")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var got relay.Payload
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AccessToken != p.AccessToken || got.ExpireTimestamp != p.ExpireTimestamp {
		t.Fatalf("payload mismatch: %+v", got)
	}
}

func TestPostRejectsIncompletePayload(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "not json"},
		{name: "missing token", body: `{"expire_timestamp":100}`},
		{name: "missing expiry", body: `{"access_token":"t"}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			res := postJSON(t, ts.URL+"/token", []byte(tt.body))
			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", res.StatusCode)
			}
		})
	}
}

func TestGetExpiredPayload(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t)

	s.SetPayload(testPayload(testNow.Add(-time.Minute)))

	res, err := http.Get(ts.URL + "/token")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusGone {
		t.Fatalf("status = %d, want 410", res.StatusCode)
	}
}

func TestOptionsPreflight(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/token", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", res.StatusCode)
	}
	if res.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing permissive CORS origin header")
	}
	if res.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("missing CORS methods header")
	}
}

func TestServerlessBackendAgainstLocalServer(t *testing.T) {
	t.Parallel()
	// The local endpoint speaks the same protocol the serverless backend
	// expects, so the backend can use it directly.
	_, ts := newTestServer(t)

	b, err := relay.New(relay.Descriptor{
		Kind:     relay.KindServerless,
		Endpoint: ts.URL + "/token",
		Enabled:  true,
	}, relay.Options{Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}

	p := testPayload(testNow.Add(time.Hour))
	if err := b.Put(context.Background(), p); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := b.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != p.AccessToken {
		t.Fatalf("AccessToken = %q", got.AccessToken)
	}
}

func TestEdgeKVBackendAgainstLocalServer(t *testing.T) {
	t.Parallel()
	// The store contract is POST + JSON body; the edgekv backend must
	// publish through the same surface the local endpoint serves.
	_, ts := newTestServer(t)

	b, err := relay.New(relay.Descriptor{
		Kind:       relay.KindEdgeKV,
		Endpoint:   ts.URL + "/token",
		Credential: "kv-secret",
		Enabled:    true,
	}, relay.Options{Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}

	p := testPayload(testNow.Add(time.Hour))
	if err := b.Put(context.Background(), p); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := b.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != p.AccessToken {
		t.Fatalf("AccessToken = %q", got.AccessToken)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("Addr empty after Start")
	}

	res, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", res.StatusCode)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("Addr non-empty after Stop")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("disabled server must not listen")
	}
}
