package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// Serverless proxies the same logical contract through an HTTP function:
// Put is a POST with the JSON payload, Get a plain GET. The JSON envelope
// is validated on both sides before being accepted or returned.
type Serverless struct {
	endpoint   string
	credential string
	httpc      *http.Client
	now        func() time.Time
}

func newServerless(d Descriptor, opts Options) (*Serverless, error) {
	if strings.TrimSpace(d.Endpoint) == "" {
		return nil, errors.New("serverless endpoint is required")
	}
	return &Serverless{
		endpoint:   d.Endpoint,
		credential: d.Credential,
		httpc:      opts.client(),
		now:        opts.now(),
	}, nil
}

func (b *Serverless) Kind() Kind { return KindServerless }

func (b *Serverless) Put(ctx context.Context, p Payload) error {
	// Validate before submitting; the function answers 400 for the same
	// problems, but failing locally gives a clearer error.
	if err := p.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return &FormatError{Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.credential != "" {
		req.Header.Set("Authorization", "Bearer "+b.credential)
	}

	res, err := b.httpc.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))

	if res.StatusCode/100 != 2 {
		return &TransportError{Status: res.StatusCode}
	}
	return nil
}

func (b *Serverless) Get(ctx context.Context) (Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint, nil)
	if err != nil {
		return Payload{}, err
	}
	if b.credential != "" {
		req.Header.Set("Authorization", "Bearer "+b.credential)
	}

	res, err := b.httpc.Do(req)
	if err != nil {
		return Payload{}, &TransportError{Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return Payload{}, statusErr(res.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Payload{}, &TransportError{Err: err}
	}
	p, err := parsePayload(raw)
	if err != nil {
		return Payload{}, err
	}
	return checkStored(p, b.now())
}
