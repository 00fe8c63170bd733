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

// EdgeKV stores the payload as a single value under a fixed key behind a
// key-value edge worker. Put is a plain overwrite, Get a point read.
type EdgeKV struct {
	endpoint   string
	credential string
	httpc      *http.Client
	now        func() time.Time
}

func newEdgeKV(d Descriptor, opts Options) (*EdgeKV, error) {
	if strings.TrimSpace(d.Endpoint) == "" {
		return nil, errors.New("edgekv endpoint is required")
	}
	if strings.TrimSpace(d.Credential) == "" {
		return nil, errors.New("edgekv credential is required")
	}
	return &EdgeKV{
		endpoint:   d.Endpoint,
		credential: d.Credential,
		httpc:      opts.client(),
		now:        opts.now(),
	}, nil
}

func (b *EdgeKV) Kind() Kind { return KindEdgeKV }

func (b *EdgeKV) Put(ctx context.Context, p Payload) error {
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
	req.Header.Set("Authorization", "Bearer "+b.credential)

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

func (b *EdgeKV) Get(ctx context.Context) (Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint, nil)
	if err != nil {
		return Payload{}, err
	}
	req.Header.Set("Authorization", "Bearer "+b.credential)

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
