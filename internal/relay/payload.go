// Package relay distributes the current access token to external relay
// backends (edge KV, serverless function, git-hosted file) and reads it
// back. The coordinator drives one refresh/publish/report cycle at a time.
package relay

import (
	"encoding/json"
	"time"

	"clsrelay/internal/token"
)

// Fixed descriptive tags carried in every stored payload so downstream
// consumers can tell what they are holding.
const (
	payloadSource = "cls-telegraph-relay"
	payloadUsage  = "feishu tenant_access_token for downstream consumers"
)

const wireTimeFormat = "2006-01-02 15:04:05"

// beijing is the display timezone for human-readable payload fields.
// Falls back to a fixed +08:00 zone when tzdata is unavailable.
var beijing = loadBeijing()

func loadBeijing() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}

// Payload is the wire format shared by all HTTP-based backends.
//
// access_token and expire_timestamp are mandatory; everything else is
// descriptive. Readers always recompute expiry from expire_timestamp and
// never trust a remote "valid" flag.
type Payload struct {
	AccessToken          string `json:"access_token"`
	ExpireTime           string `json:"expire_time"`
	ExpireTimestamp      int64  `json:"expire_timestamp"`
	ValidDurationSeconds int64  `json:"valid_duration_seconds"`
	GeneratedTime        string `json:"generated_time"`
	GeneratedTimestamp   int64  `json:"generated_timestamp"`
	Source               string `json:"source"`
	Usage                string `json:"usage"`
	Platform             string `json:"platform"`
}

// NewPayload serializes a token record for the given backend.
func NewPayload(rec token.Record, platform Kind) Payload {
	return Payload{
		AccessToken:          rec.Value,
		ExpireTime:           rec.ExpiresAt.In(beijing).Format(wireTimeFormat),
		ExpireTimestamp:      rec.ExpiresAt.Unix(),
		ValidDurationSeconds: int64(rec.ExpiresAt.Sub(rec.IssuedAt) / time.Second),
		GeneratedTime:        rec.IssuedAt.In(beijing).Format(wireTimeFormat),
		GeneratedTimestamp:   rec.IssuedAt.Unix(),
		Source:               payloadSource,
		Usage:                payloadUsage,
		Platform:             string(platform),
	}
}

// Validate checks the two mandatory fields.
func (p Payload) Validate() error {
	if p.AccessToken == "" {
		return &FormatError{Reason: "missing access_token"}
	}
	if p.ExpireTimestamp <= 0 {
		return &FormatError{Reason: "missing expire_timestamp"}
	}
	return nil
}

// Expired reports whether the payload's token has passed its expiry.
func (p Payload) Expired(now time.Time) bool {
	return now.Unix() >= p.ExpireTimestamp
}

// Record reconstructs a token record from a stored payload.
func (p Payload) Record() (token.Record, error) {
	if err := p.Validate(); err != nil {
		return token.Record{}, err
	}
	issued := time.Unix(p.GeneratedTimestamp, 0)
	if p.GeneratedTimestamp <= 0 {
		if p.ValidDurationSeconds > 0 {
			issued = time.Unix(p.ExpireTimestamp-p.ValidDurationSeconds, 0)
		} else {
			// Issue time is unknown; a zero IssuedAt says so, an instant
			// equal to expiry would not.
			issued = time.Time{}
		}
	}
	return token.Record{
		Value:     p.AccessToken,
		IssuedAt:  issued,
		ExpiresAt: time.Unix(p.ExpireTimestamp, 0),
		Source:    p.Source,
	}, nil
}

// parsePayload decodes raw JSON into a Payload, mapping decode problems and
// missing mandatory fields to FormatError.
func parsePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, &FormatError{Reason: "invalid JSON: " + err.Error()}
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// checkStored applies the reader-side freshness rule shared by all Get
// implementations.
func checkStored(p Payload, now time.Time) (Payload, error) {
	if p.Expired(now) {
		return Payload{}, ErrExpired
	}
	return p, nil
}
