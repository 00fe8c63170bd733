// Package pipeline runs the outer scheduled loop: fetch the telegraph
// roll, archive and push what is new, then refresh and distribute the
// access token. Cycles never overlap; a trigger that lands while a cycle
// is still running is skipped, not queued.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"clsrelay/internal/cls"
	"clsrelay/internal/cls/digest"
	"clsrelay/internal/eventbus"
	"clsrelay/internal/feishu"
	"clsrelay/internal/relay"
	"clsrelay/internal/storage"
	"clsrelay/pkg/logx"
)

// Fetcher returns the current telegraph roll.
type Fetcher interface {
	Fetch(ctx context.Context) ([]cls.Telegram, error)
}

// Distributor runs one token refresh/publish/report cycle.
type Distributor interface {
	RunCycle(ctx context.Context) relay.Summary
}

// ItemSink is told how many new items a cycle produced, before the
// distributor reports.
type ItemSink interface {
	NoteNewItems(n int)
}

// Pusher delivers the combined new-items message to chat.
type Pusher interface {
	Send(ctx context.Context, msg feishu.WebhookMessage) error
}

// Config controls the driver.
type Config struct {
	// Schedule is a cron spec ("*/10 * * * *", "@every 10m").
	Schedule string
	// Timezone for cron evaluation and display times; default Asia/Shanghai.
	Timezone string
}

const newItemsReportType = "财联社电报"

// Driver owns the cron loop and one cycle's orchestration.
type Driver struct {
	log logx.Logger
	bus eventbus.Bus
	cfg Config

	fetcher Fetcher
	dist    Distributor
	store   storage.Store
	sink    ItemSink
	pusher  Pusher

	loc *time.Location
	now func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running atomic.Bool
}

func NewDriver(cfg Config, fetcher Fetcher, dist Distributor, store storage.Store, sink ItemSink, pusher Pusher, bus eventbus.Bus, log logx.Logger) *Driver {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc, err := time.LoadLocation(defaultString(cfg.Timezone, "Asia/Shanghai"))
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &Driver{
		log:     log,
		bus:     bus,
		cfg:     cfg,
		fetcher: fetcher,
		dist:    dist,
		store:   store,
		sink:    sink,
		pusher:  pusher,
		loc:     loc,
		now:     time.Now,
	}
}

func defaultString(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// Start schedules the cycle. ctx bounds every triggered cycle; Stop (or
// ctx cancellation) ends the loop.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		return nil
	}

	c := cron.New(cron.WithLocation(d.loc))
	if _, err := c.AddFunc(d.cfg.Schedule, func() { d.trigger(ctx) }); err != nil {
		return err
	}
	d.cron = c
	c.Start()
	d.log.Info("pipeline scheduled",
		logx.String("schedule", d.cfg.Schedule),
		logx.String("timezone", d.loc.String()))
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish or ctx
// to expire.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce triggers one cycle immediately, subject to the same overlap
// guard as scheduled triggers.
func (d *Driver) RunOnce(ctx context.Context) {
	d.trigger(ctx)
}

func (d *Driver) trigger(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		d.log.Warn("cycle still in progress; trigger skipped")
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleSkipped})
		}
		return
	}
	defer d.running.Store(false)

	// A panic in one cycle must not take down the schedule.
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("cycle panicked", logx.Any("panic", r))
		}
	}()

	started := d.now()
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleStarted, Data: started})
	}

	d.runFeed(ctx)
	sum := d.dist.RunCycle(ctx)

	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleFinished, Data: sum})
	}
	d.log.Debug("cycle finished",
		logx.Duration("took", d.now().Sub(started)),
		logx.Bool("distributed", sum.Succeeded))
}

// runFeed fetches the roll, archives each touched day, and pushes the
// genuinely new items. Feed problems never block token distribution.
func (d *Driver) runFeed(ctx context.Context) {
	if d.fetcher == nil {
		return
	}

	items, err := d.fetcher.Fetch(ctx)
	if err != nil {
		d.log.Warn("feed fetch failed; continuing with token cycle", logx.Err(err))
		return
	}
	if len(items) == 0 {
		return
	}

	ids := make([]string, len(items))
	for i, t := range items {
		ids[i] = t.ID
	}
	freshIDs, err := storage.FilterNew(ctx, d.store, ids)
	if err != nil {
		d.log.Warn("seen-id lookup failed; treating roll as new", logx.Err(err))
		freshIDs = ids
	}
	freshSet := make(map[string]struct{}, len(freshIDs))
	for _, id := range freshIDs {
		freshSet[id] = struct{}{}
	}

	var fresh []cls.Telegram
	for _, t := range items {
		if _, ok := freshSet[t.ID]; ok {
			fresh = append(fresh, t)
		}
	}

	d.archive(ctx, items)

	if len(fresh) == 0 {
		d.log.Debug("no new telegraph items")
		return
	}

	if d.store != nil {
		for _, t := range fresh {
			if err := d.store.MarkSeen(ctx, t.ID, d.now()); err != nil {
				d.log.Warn("mark seen failed", logx.String("id", t.ID), logx.Err(err))
			}
		}
	}
	if d.sink != nil {
		d.sink.NoteNewItems(len(fresh))
	}
	d.pushNewItems(ctx, fresh)
}

// archive merges each touched day's roll into its stored document.
func (d *Driver) archive(ctx context.Context, items []cls.Telegram) {
	if d.store == nil {
		return
	}

	byDay := map[string][]cls.Telegram{}
	for _, t := range items {
		if t.Timestamp <= 0 {
			continue
		}
		day := t.Day(d.loc)
		byDay[day] = append(byDay[day], t)
	}

	for day, dayItems := range byDay {
		existing, _, err := d.store.Digest(ctx, day)
		if err != nil {
			d.log.Warn("digest load failed", logx.String("day", day), logx.Err(err))
			continue
		}
		merged := digest.Merge(digest.Parse(existing), dayItems)
		doc := digest.Render(merged, d.loc)
		changed, err := d.store.SaveDigest(ctx, day, doc)
		if err != nil {
			d.log.Warn("digest save failed", logx.String("day", day), logx.Err(err))
			continue
		}
		if changed {
			if d.bus != nil {
				d.bus.Publish(eventbus.Event{Type: eventbus.TypeDigestSaved, Data: day})
			}
			d.log.Debug("digest updated",
				logx.String("day", day), logx.Int("items", len(merged)))
		}
	}
}

func (d *Driver) pushNewItems(ctx context.Context, fresh []cls.Telegram) {
	if d.pusher == nil {
		return
	}
	msg := feishu.WebhookMessage{
		Text:        digest.Combined(fresh, d.loc),
		TotalTitles: len(fresh),
		Timestamp:   d.now().In(d.loc).Format("2006-01-02 15:04:05"),
		ReportType:  newItemsReportType,
	}
	if err := d.pusher.Send(ctx, msg); err != nil {
		// Best effort; the items stay archived and marked seen.
		d.log.Warn("new-items push failed", logx.Err(err))
		return
	}
	d.log.Info("new items pushed", logx.Int("count", len(fresh)))
}
