package cls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"clsrelay/pkg/logx"
)

func TestSignDeterministic(t *testing.T) {
	t.Parallel()
	a := sign(map[string]string{"os": "web", "app_name": "CailianpressWeb", "sv": "7.7.5"})
	b := sign(map[string]string{"sv": "7.7.5", "app_name": "CailianpressWeb", "os": "web"})
	if a != b {
		t.Fatalf("sign is order-sensitive: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("sign length = %d, want md5 hex", len(a))
	}
	// Fixed identity params produce a fixed signature.
	if a != sign(appParams) {
		t.Fatalf("sign(appParams) mismatch: %q", a)
	}
}

const rollBody = `{
  "error": 0,
  "data": {
    "roll_data": [
      {"id": 101, "title": "突发：重要公告", "brief": "突发：某公司重要公告", "ctime": 1748772000, "is_ad": false},
      {"id": 102, "title": "广告", "brief": "买买买", "ctime": 1748772060, "is_ad": true},
      {"id": 103, "title": "平常消息", "brief": "", "ctime": 1748772120, "is_ad": 0}
    ]
  }
}`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{
		BaseURL:     srv.URL,
		RetryMax:    2,
		RetryDelay:  time.Millisecond,
		MinInterval: time.Nanosecond,
	}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestFetchParsesAndClassifies(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sign") == "" {
			t.Error("request missing sign parameter")
		}
		if r.URL.Query().Get("app_name") != "CailianpressWeb" {
			t.Errorf("app_name = %q", r.URL.Query().Get("app_name"))
		}
		w.Write([]byte(rollBody))
	}))

	items, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (ad filtered)", len(items))
	}

	first := items[0]
	if first.ID != "101" {
		t.Fatalf("ID = %q", first.ID)
	}
	if !first.Important {
		t.Fatal("keyword item not flagged important")
	}
	if first.URL != "https://www.cls.cn/detail/101" {
		t.Fatalf("URL = %q", first.URL)
	}
	if first.Content != "突发：某公司重要公告" {
		t.Fatalf("Content = %q", first.Content)
	}

	// Empty brief falls back to the title.
	second := items[1]
	if second.Content != "平常消息" {
		t.Fatalf("Content = %q, want title fallback", second.Content)
	}
	if second.Important {
		t.Fatal("plain item flagged important")
	}
}

func TestFetchRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(rollBody))
	}))

	items, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want retry after 502", calls.Load())
	}
}

func TestFetchUpstreamErrorCode(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": 42}`))
	}))

	if _, err := c.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for upstream error code")
	}
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Fetch(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestClassifierCustomKeywords(t *testing.T) {
	t.Parallel()
	cl := NewClassifier([]string{"alpha"})
	if !cl.Important("contains alpha keyword") {
		t.Fatal("custom keyword not matched")
	}
	if cl.Important("重要") {
		t.Fatal("default keyword must not match with custom list")
	}

	def := NewClassifier(nil)
	if !def.Important("这是重要新闻") {
		t.Fatal("default keyword not matched")
	}
}
