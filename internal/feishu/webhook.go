package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Webhook pushes plain status/digest messages into a chat through a Feishu
// automation webhook. It needs no access token; the URL itself is the
// credential.
type Webhook struct {
	URL        string
	HTTPClient *http.Client
}

// WebhookMessage is the payload shape the automation flow expects.
type WebhookMessage struct {
	Text        string `json:"text"`
	TotalTitles int    `json:"total_titles"`
	Timestamp   string `json:"timestamp"`
	ReportType  string `json:"report_type"`
}

type webhookEnvelope struct {
	Content WebhookMessage `json:"content"`
}

// Send delivers one message. A non-2xx response is an error; callers decide
// whether that is fatal (for the pipeline it never is).
func (w *Webhook) Send(ctx context.Context, msg WebhookMessage) error {
	if strings.TrimSpace(w.URL) == "" {
		return fmt.Errorf("webhook url is empty")
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().Format("2006-01-02 15:04:05")
	}

	body, err := json.Marshal(webhookEnvelope{Content: msg})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	httpc := w.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	res, err := httpc.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("webhook push: status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
