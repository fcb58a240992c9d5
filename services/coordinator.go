package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pickup-notify/models"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ClampPolicy decides what happens when a computed send time is already in
// the past at scheduling time. Never silently drop a send.
type ClampPolicy int

const (
	// ClampSendNow dispatches due and overdue orders immediately.
	ClampSendNow ClampPolicy = iota
	// ClampDefer re-arms the trigger a few minutes into the future.
	ClampDefer
)

const deferDelay = 5 * time.Minute

// CoordinatorConfig tunes the coordinator.
type CoordinatorConfig struct {
	ClampPolicy ClampPolicy
	// SweepEvery re-runs RestorePending on an interval; 0 disables the sweep.
	SweepEvery time.Duration
	// DedupWindow skips a dispatch when the order already went out within the
	// window (double-click guard on manual sends); 0 disables the check.
	DedupWindow time.Duration
}

// CoordinatorDeps are the injected collaborators. Audit and Alerts may be nil.
type CoordinatorDeps struct {
	Store     OrderStore
	Renderer  *Renderer
	Transport Transport
	Creds     CredentialSet
	Audit     DispatchAudit
	Alerts    Alerter
}

// Coordinator owns the mapping from order id to its active one-shot trigger.
// It is the only component allowed to move an order from pending to sent.
type Coordinator struct {
	store     OrderStore
	renderer  *Renderer
	transport Transport
	creds     CredentialSet
	audit     DispatchAudit
	alerts    Alerter
	cfg       CoordinatorConfig
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	timers  map[int64]*time.Timer
	vers    map[int64]uint64 // bumped on re-arm/cancel so stale callbacks no-op
	c       *cron.Cron
	started bool

	// Per-order mutex: at most one in-flight terminal transition per id.
	orderLocks sync.Map // map[int64]*sync.Mutex
}

func NewCoordinator(deps CoordinatorDeps, cfg CoordinatorConfig, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:     deps.Store,
		renderer:  deps.Renderer,
		transport: deps.Transport,
		creds:     deps.Creds,
		audit:     deps.Audit,
		alerts:    deps.Alerts,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		timers:    map[int64]*time.Timer{},
		vers:      map[int64]uint64{},
	}
}

// Start begins the optional periodic sweep. Scheduling works without Start;
// the sweep only re-arms triggers lost to a restart or a stopped timer.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	if c.cfg.SweepEvery > 0 {
		c.c = cron.New()
		_, err := c.c.AddFunc(fmt.Sprintf("@every %s", c.cfg.SweepEvery), func() {
			if err := c.restorePending(context.Background(), false); err != nil {
				c.log.Warn().Err(err).Msg("pending sweep failed")
			}
		})
		if err != nil {
			c.log.Error().Err(err).Msg("register pending sweep")
		} else {
			c.c.Start()
		}
	}
	c.log.Info().Dur("sweep_every", c.cfg.SweepEvery).Msg("coordinator started")
}

// Stop cancels the sweep and every live timer, whether or not Start ran:
// Schedule arms timers without it. Pending orders keep their records;
// RestorePending re-arms them on the next start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.started = false
	cr := c.c
	c.c = nil
	c.mu.Unlock()

	// The sweep takes c.mu itself, so wait for it outside the lock.
	if cr != nil {
		<-cr.Stop().Done()
	}

	// Timers last, so nothing re-arms behind our back.
	c.mu.Lock()
	for id, t := range c.timers {
		t.Stop()
		c.vers[id]++
	}
	c.timers = map[int64]*time.Timer{}
	c.mu.Unlock()
	c.log.Info().Msg("coordinator stopped")
}

// Schedule registers the order's one-shot trigger, or dispatches immediately
// when the send time is already due (per ClampPolicy).
func (c *Coordinator) Schedule(ctx context.Context, o *models.Order) error {
	now := c.now()
	if o.SendAt.After(now) {
		return c.arm(ctx, o.ID, o.SendAt)
	}
	if c.cfg.ClampPolicy == ClampDefer {
		return c.arm(ctx, o.ID, now.Add(deferDelay))
	}
	return c.SendNow(ctx, o.ID)
}

// arm replaces any existing timer for the order with one firing at `at` and
// persists the new trigger reference. At most one live trigger per order.
// The reference is written before the timer exists so a near-immediate fire
// can never observe (or resurrect) a stale one.
func (c *Coordinator) arm(ctx context.Context, id int64, at time.Time) error {
	ref := uuid.NewString()
	if err := c.store.SetTrigger(ctx, id, ref); err != nil {
		return err
	}

	c.mu.Lock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
	}
	ver := c.vers[id] + 1
	c.vers[id] = ver
	delay := at.Sub(c.now())
	if delay < 0 {
		delay = 0
	}
	c.timers[id] = time.AfterFunc(delay, func() { c.fireFromTimer(id, ver) })
	c.mu.Unlock()

	c.log.Debug().Int64("order", id).Time("at", at).Str("trigger", ref).Msg("trigger armed")
	return nil
}

// disarm stops and invalidates the order's timer, if any. Best-effort: the
// timer may already have fired, in which case the status re-check in Fire is
// what keeps the order from double-sending.
func (c *Coordinator) disarm(id int64) {
	c.mu.Lock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	c.vers[id]++
	c.mu.Unlock()
}

func (c *Coordinator) fireFromTimer(id int64, ver uint64) {
	c.mu.Lock()
	if c.vers[id] != ver {
		// Canceled or replaced while we were waiting to run.
		c.mu.Unlock()
		return
	}
	delete(c.timers, id)
	c.mu.Unlock()

	if err := c.Fire(context.Background(), id); err != nil {
		c.log.Error().Err(err).Int64("order", id).Msg("scheduled dispatch failed")
	}
}

// Fire re-fetches the order and dispatches it if it is still pending.
// A fire against a sent or deleted order is a no-op.
func (c *Coordinator) Fire(ctx context.Context, id int64) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	o, err := c.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if o.Status != models.StatusPending {
		return nil
	}
	return c.deliverLocked(ctx, o)
}

// SendNow cancels any live trigger and dispatches immediately. An order that
// is already sent is a successful no-op; a missing order is ErrNotFound.
func (c *Coordinator) SendNow(ctx context.Context, id int64) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	o, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != models.StatusPending {
		return nil
	}
	c.disarm(id)
	return c.deliverLocked(ctx, o)
}

// Cancel stops the order's trigger if one exists. Cancellation is advisory:
// a trigger that already fired or is firing concurrently makes this a no-op.
func (c *Coordinator) Cancel(ctx context.Context, id int64) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	o, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	c.disarm(id)
	if o.TriggerRef != "" {
		if err := c.store.ClearTrigger(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Delete cancels the trigger first, then removes the record, so a trigger can
// never fire against a deleted order.
func (c *Coordinator) Delete(ctx context.Context, id int64) error {
	lock := c.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.store.Get(ctx, id); err != nil {
		return err
	}
	c.disarm(id)
	return c.store.Delete(ctx, id)
}

// deliverLocked renders, dispatches and marks the order sent. Caller holds
// the per-order lock and has verified status == pending.
func (c *Coordinator) deliverLocked(ctx context.Context, o *models.Order) error {
	// The one-shot is consumed (or canceled) by now either way.
	if o.TriggerRef != "" {
		if err := c.store.ClearTrigger(ctx, o.ID); err != nil {
			return err
		}
	}

	if c.audit != nil && c.cfg.DedupWindow > 0 {
		dup, err := c.audit.RecentlySent(ctx, o.ID, c.cfg.DedupWindow)
		if err != nil {
			c.log.Warn().Err(err).Int64("order", o.ID).Msg("dedup check failed")
		} else if dup {
			c.log.Info().Int64("order", o.ID).Msg("skipping duplicate dispatch")
			_, err := c.store.MarkSent(ctx, o.ID)
			return err
		}
	}

	msg, err := c.renderer.Render(o)
	if err != nil {
		// Order stays pending; the error surfaces to whoever asked.
		return err
	}

	if err := c.transport.Send(msg, c.creds.For(o.Variant)); err != nil {
		c.recordDispatch(ctx, o.ID, DispatchOutcomeFailed, err.Error())
		if c.alerts != nil {
			c.alerts.DispatchFailed(o.ID, err)
		}
		return err
	}
	c.recordDispatch(ctx, o.ID, DispatchOutcomeSent, msg.Subject)

	won, err := c.store.MarkSent(ctx, o.ID)
	if err != nil {
		return err
	}
	if !won {
		c.log.Warn().Int64("order", o.ID).Msg("order no longer pending after dispatch")
	}
	c.log.Info().Int64("order", o.ID).Str("to", msg.To).Msg("notification sent")
	return nil
}

func (c *Coordinator) recordDispatch(ctx context.Context, id int64, outcome, detail string) {
	if c.audit == nil {
		return
	}
	if err := c.audit.RecordDispatch(ctx, id, outcome, detail); err != nil {
		c.log.Warn().Err(err).Int64("order", id).Msg("audit write failed")
	}
}

// RestorePending re-arms triggers for pending orders with no live timer and
// dispatches the overdue ones per ClampPolicy. Run once at boot; idempotent.
// Boot recreates triggers from the pending records alone, trigger reference
// or not, since the previous process took every timer with it.
func (c *Coordinator) RestorePending(ctx context.Context) error {
	return c.restorePending(ctx, true)
}

// restorePending is shared by boot restore and the periodic sweep. The sweep
// (rearmBare=false) only touches orders with a persisted trigger reference:
// a pending order without one was canceled or already had its one dispatch
// attempt, and rearming it would undo the cancellation or retry the failure.
func (c *Coordinator) restorePending(ctx context.Context, rearmBare bool) error {
	list, err := c.store.ListPending(ctx)
	if err != nil {
		return err
	}
	restored, fired := 0, 0
	for i := range list {
		o := &list[i]
		if !rearmBare && o.TriggerRef == "" {
			continue
		}
		c.mu.Lock()
		_, live := c.timers[o.ID]
		c.mu.Unlock()
		if live {
			continue
		}
		if err := c.Schedule(ctx, o); err != nil {
			c.log.Warn().Err(err).Int64("order", o.ID).Msg("restore failed")
			continue
		}
		if o.SendAt.After(c.now()) {
			restored++
		} else {
			fired++
		}
	}
	if restored > 0 || fired > 0 {
		c.log.Info().Int("rearmed", restored).Int("dispatched", fired).Msg("pending orders restored")
	}
	return nil
}

// BulkResult aggregates a bulk operation: per-id failures never abort the
// remaining ids.
type BulkResult struct {
	OK     int
	Failed int
	Errors []BulkError
}

type BulkError struct {
	ID  int64
	Err string
}

func (c *Coordinator) bulk(ctx context.Context, ids []int64, op func(context.Context, int64) error) BulkResult {
	var res BulkResult
	for _, id := range ids {
		if err := op(ctx, id); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, BulkError{ID: id, Err: err.Error()})
			continue
		}
		res.OK++
	}
	return res
}

func (c *Coordinator) CancelMany(ctx context.Context, ids []int64) BulkResult {
	return c.bulk(ctx, ids, c.Cancel)
}

func (c *Coordinator) SendNowMany(ctx context.Context, ids []int64) BulkResult {
	return c.bulk(ctx, ids, c.SendNow)
}

func (c *Coordinator) DeleteMany(ctx context.Context, ids []int64) BulkResult {
	return c.bulk(ctx, ids, c.Delete)
}

func (c *Coordinator) lockFor(id int64) *sync.Mutex {
	v, _ := c.orderLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}
