// Package feishu talks to the Feishu open platform: the tenant credential
// endpoint (token source) and the automation webhook (chat push).
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clsrelay/internal/token"
)

const (
	// DefaultBaseURL is the production open-platform endpoint.
	DefaultBaseURL = "https://open.feishu.cn"

	tokenPath = "/open-apis/auth/v3/tenant_access_token/internal"

	// recordSource tags every record minted through this client.
	recordSource = "feishu-tenant"
)

// TokenSource obtains tenant access tokens for one application identity.
type TokenSource struct {
	AppID     string
	AppSecret string

	// BaseURL overrides the platform endpoint (tests, gateways).
	BaseURL string
	// HTTPClient is optional; defaults to a client with a bounded timeout.
	HTTPClient *http.Client

	now func() time.Time
}

func NewTokenSource(appID, appSecret string) (*TokenSource, error) {
	if strings.TrimSpace(appID) == "" || strings.TrimSpace(appSecret) == "" {
		return nil, errors.New("feishu app_id and app_secret are required")
	}
	return &TokenSource{AppID: appID, AppSecret: appSecret, now: time.Now}, nil
}

type tokenRequest struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int64  `json:"expire"` // validity in seconds, typically 7200
}

// Fetch requests a fresh token and derives its absolute expiry from the
// server-provided validity duration. No side effects beyond the call.
func (s *TokenSource) Fetch(ctx context.Context) (token.Record, error) {
	body, err := json.Marshal(tokenRequest{AppID: s.AppID, AppSecret: s.AppSecret})
	if err != nil {
		return token.Record{}, err
	}

	url := s.baseURL() + tokenPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return token.Record{}, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	res, err := s.client().Do(req)
	if err != nil {
		return token.Record{}, &NetworkError{Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return token.Record{}, &NetworkError{Err: err}
	}
	if res.StatusCode/100 != 2 {
		return token.Record{}, &AuthError{Code: res.StatusCode, Msg: strings.TrimSpace(string(raw))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return token.Record{}, &ProtocolError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if tr.Code != 0 {
		return token.Record{}, &AuthError{Code: tr.Code, Msg: tr.Msg}
	}
	if tr.TenantAccessToken == "" {
		return token.Record{}, &ProtocolError{Reason: "missing tenant_access_token"}
	}
	if tr.Expire <= 0 {
		return token.Record{}, &ProtocolError{Reason: "missing or non-positive expire"}
	}

	now := s.now()
	return token.Record{
		Value:     tr.TenantAccessToken,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(tr.Expire) * time.Second),
		Source:    recordSource,
	}, nil
}

func (s *TokenSource) baseURL() string {
	if s.BaseURL != "" {
		return strings.TrimRight(s.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (s *TokenSource) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}
