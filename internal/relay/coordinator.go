package relay

import (
	"context"
	"errors"
	"time"

	"clsrelay/internal/eventbus"
	"clsrelay/internal/token"
	"clsrelay/pkg/logx"
)

// TokenSource obtains a fresh token from the credential endpoint.
type TokenSource interface {
	Fetch(ctx context.Context) (token.Record, error)
}

// Reporter receives the per-cycle summary. Delivery failures never reverse
// a successful distribution.
type Reporter interface {
	Report(ctx context.Context, s Summary) error
}

// Policy bounds the publish loop.
type Policy struct {
	// PublishAll keeps going after the first success instead of stopping.
	PublishAll bool
	// RetryPerBackend is extra attempts after the first failure. Zero takes
	// the default single retry; NoRetry disables it. Capped at 1 so a
	// backend sees at most 2 attempts per cycle.
	RetryPerBackend int
	// RetryBackoff is the fixed wait before the retry attempt.
	RetryBackoff time.Duration
	// PutTimeout bounds each network attempt.
	PutTimeout time.Duration
}

// NoRetry turns off the default retry attempt.
const NoRetry = -1

func (p Policy) withDefaults() Policy {
	switch {
	case p.RetryPerBackend == 0:
		p.RetryPerBackend = 1
	case p.RetryPerBackend < 0:
		p.RetryPerBackend = 0
	case p.RetryPerBackend > 1:
		p.RetryPerBackend = 1
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = 3 * time.Second
	}
	if p.PutTimeout <= 0 {
		p.PutTimeout = 10 * time.Second
	}
	return p
}

// Status of one backend within a cycle.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result is the audit record of one backend's outcome in one cycle.
// It lives for the cycle's report only and is never persisted.
type Result struct {
	Backend     Kind
	Status      Status
	Attempts    int
	HTTPStatus  int
	ErrorDetail string
	AttemptedAt time.Time
}

// Summary aggregates one full cycle for reporting.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time

	// Refreshed: a new record was fetched this cycle; reusing the cached
	// one inside its freshness window does not count.
	Refreshed  bool
	RefreshErr string
	// Fatal: refresh failed and no usable token existed, so no backend was
	// attempted.
	Fatal bool

	Succeeded bool
	Chosen    Kind // first backend that accepted the payload
	Results   []Result

	Token token.Record
}

// FailedCount counts backends that were attempted and failed.
func (s Summary) FailedCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Cycle phases. One cycle runs Idle -> Refreshing -> Publishing ->
// Reporting -> Idle; a fatal refresh jumps straight to Reporting.
type phase string

const (
	phaseIdle       phase = "idle"
	phaseRefreshing phase = "refreshing"
	phasePublishing phase = "publishing"
	phaseReporting  phase = "reporting"
)

// Coordinator owns refresh timing, fan-out to the configured backends in
// priority order, and the bounded retry policy. It holds no long-lived
// locks across network calls; mutual exclusion between cycles is the
// pipeline driver's job.
type Coordinator struct {
	log    logx.Logger
	bus    eventbus.Bus
	cache  *token.Cache
	source TokenSource
	sink   Reporter

	backends []Backend
	policy   Policy

	now func() time.Time
}

func NewCoordinator(cache *token.Cache, source TokenSource, backends []Backend, policy Policy, sink Reporter, bus eventbus.Bus, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		log:      log,
		bus:      bus,
		cache:    cache,
		source:   source,
		sink:     sink,
		backends: backends,
		policy:   policy.withDefaults(),
		now:      time.Now,
	}
}

// RunCycle executes one refresh/publish/report cycle and returns its
// summary. It never panics and never crashes the process: every failure is
// folded into the summary.
func (c *Coordinator) RunCycle(ctx context.Context) Summary {
	sum := Summary{StartedAt: c.now()}

	rec, ok := c.refresh(ctx, &sum)
	if ok {
		c.publish(ctx, rec, &sum)
	}

	c.setPhase(phaseReporting)
	sum.FinishedAt = c.now()
	c.report(ctx, sum)
	c.setPhase(phaseIdle)
	return sum
}

func (c *Coordinator) refresh(ctx context.Context, sum *Summary) (token.Record, bool) {
	c.setPhase(phaseRefreshing)

	prev, _ := c.cache.Peek()
	rec, err := c.cache.EnsureFresh(ctx, c.source.Fetch)
	if err == nil {
		sum.Refreshed = rec.Value != prev.Value || !rec.ExpiresAt.Equal(prev.ExpiresAt)
		sum.Token = rec
		if sum.Refreshed && c.bus != nil {
			c.bus.Publish(eventbus.Event{Type: eventbus.TypeTokenRefreshed, Data: rec.ExpiresAt})
		}
		return rec, true
	}

	sum.RefreshErr = err.Error()
	if rec.Valid(c.now()) {
		// Refresh failed but an unexpired record survives: distribute it
		// anyway and only log the failure.
		c.log.Warn("token refresh failed; distributing last known good record",
			logx.Err(err), logx.Time("expires_at", rec.ExpiresAt))
		sum.Token = rec
		if c.bus != nil {
			c.bus.Publish(eventbus.Event{Type: eventbus.TypeTokenStale, Data: rec.ExpiresAt})
		}
		return rec, true
	}

	// No usable token at all: fatal for this cycle, no backends attempted.
	sum.Fatal = true
	c.log.Error("token refresh failed with no cached record; skipping publish", logx.Err(err))
	return token.Record{}, false
}

func (c *Coordinator) publish(ctx context.Context, rec token.Record, sum *Summary) {
	c.setPhase(phasePublishing)

	done := false
	for _, b := range c.backends {
		if done && !c.policy.PublishAll {
			sum.Results = append(sum.Results, Result{
				Backend:     b.Kind(),
				Status:      StatusSkipped,
				AttemptedAt: c.now(),
			})
			continue
		}

		res := c.putWithRetry(ctx, b, NewPayload(rec, b.Kind()))
		sum.Results = append(sum.Results, res)

		if res.Status == StatusSucceeded {
			if !done {
				sum.Chosen = b.Kind()
			}
			done = true
			sum.Succeeded = true
		}

		if c.bus != nil {
			c.bus.Publish(eventbus.Event{Type: eventbus.TypePublishResult, Data: res})
		}
	}

	for _, r := range sum.Results {
		if r.Status != StatusFailed {
			continue
		}
		// Git-hosted file puts are slow and rate-limited; a failure there is
		// soft as long as some other backend took the payload.
		if r.Backend == KindGitFile && sum.Succeeded {
			c.log.Warn("gitfile put failed (soft, another backend succeeded)",
				logx.String("error", r.ErrorDetail))
			continue
		}
		c.log.Error("backend put failed",
			logx.String("backend", string(r.Backend)),
			logx.Int("attempts", r.Attempts),
			logx.String("error", r.ErrorDetail))
	}

	if !sum.Succeeded {
		c.log.Error("all enabled backends failed; token stays cached for next cycle",
			logx.Int("failed", sum.FailedCount()))
	}
}

func (c *Coordinator) putWithRetry(ctx context.Context, b Backend, p Payload) Result {
	res := Result{Backend: b.Kind(), AttemptedAt: c.now()}

	maxAttempts := 1 + c.policy.RetryPerBackend
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt

		putCtx, cancel := context.WithTimeout(ctx, c.policy.PutTimeout)
		err := b.Put(putCtx, p)
		cancel()
		if err == nil {
			res.Status = StatusSucceeded
			return res
		}
		lastErr = err

		// Malformed payloads don't get better on retry.
		var fe *FormatError
		if errors.As(err, &fe) {
			break
		}
		if attempt >= maxAttempts {
			break
		}

		c.log.Debug("backend put failed; retrying",
			logx.String("backend", string(b.Kind())),
			logx.Int("attempt", attempt),
			logx.Duration("backoff", c.policy.RetryBackoff),
			logx.Err(err))
		t := time.NewTimer(c.policy.RetryBackoff)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			lastErr = ctx.Err()
			attempt = maxAttempts
		case <-t.C:
		}
	}

	res.Status = StatusFailed
	if lastErr != nil {
		res.ErrorDetail = lastErr.Error()
		var te *TransportError
		if errors.As(lastErr, &te) {
			res.HTTPStatus = te.Status
		}
	}
	return res
}

func (c *Coordinator) report(ctx context.Context, sum Summary) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Report(ctx, sum); err != nil {
		// Best effort only; a lost status message never undoes the publish.
		c.log.Warn("cycle report delivery failed", logx.Err(err))
	}
}

func (c *Coordinator) setPhase(p phase) {
	c.log.Trace("cycle phase", logx.String("phase", string(p)))
}
