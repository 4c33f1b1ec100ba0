// Package pool hands out exclusive, time-bounded leases on the browser
// slots of a fixed port range.
//
// The Pool is the single writer of slot state. Every mutation (allocate,
// release, heartbeat, reclaim, shutdown) runs under one mutex, including
// the launcher start inside allocate, so at most one slot changes at a
// time. Reads go straight to the store; each is a single statement.
//
// Slot lifecycle:
//
//	idle -> starting -> allocated -> idle
//	starting -> crashed -> idle        (launch failure, cleared at once)
package pool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/firefly-engineering/browserpool/internal/audit"
	poolerrors "github.com/firefly-engineering/browserpool/internal/errors"
	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/launcher"
	"github.com/firefly-engineering/browserpool/internal/logging"
	"github.com/firefly-engineering/browserpool/internal/metrics"
	"github.com/firefly-engineering/browserpool/internal/port"
	"github.com/firefly-engineering/browserpool/internal/store"
)

// Reason says why a slot went back to idle.
type Reason string

const (
	ReasonRelease   Reason = "release"
	ReasonExpire    Reason = "expire"
	ReasonCrash     Reason = "crash"
	ReasonShutdown  Reason = "shutdown"
	ReasonReconcile Reason = "reconcile"
)

var reasonEvents = map[Reason]audit.EventType{
	ReasonRelease:   audit.EventRelease,
	ReasonExpire:    audit.EventExpire,
	ReasonCrash:     audit.EventCrash,
	ReasonShutdown:  audit.EventShutdown,
	ReasonReconcile: audit.EventReconcile,
}

// Defaults fill in the optional allocate fields.
type Defaults struct {
	Mode    instance.Mode
	Timeout time.Duration
	URL     string
}

const (
	// DefaultTimeout is the lease length when neither request nor config set one.
	DefaultTimeout = 300 * time.Second

	// MaxTimeout is the longest lease a request may ask for.
	MaxTimeout = 30 * 24 * time.Hour
)

// AllocateRequest asks for a slot on behalf of an agent. Zero fields take
// the pool defaults.
type AllocateRequest struct {
	AgentID string
	URL     string
	Timeout time.Duration
	Mode    instance.Mode
}

// Pool is the allocator state machine over the persistent store.
type Pool struct {
	mu sync.Mutex

	// hmu guards handles, which the reaper reads without taking mu.
	hmu     sync.RWMutex
	handles map[string]instance.Handle

	store     *store.Store
	launchers launcher.Set
	ports     port.Range
	defaults  Defaults

	now     func() time.Time
	metrics metrics.Collector
	audit   *audit.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(p *Pool) {
		p.metrics = c
	}
}

// WithAuditLogger records lifecycle events to l.
func WithAuditLogger(l *audit.Logger) Option {
	return func(p *Pool) {
		p.audit = l
	}
}

// WithDefaults sets the allocate defaults.
func WithDefaults(d Defaults) Option {
	return func(p *Pool) {
		p.defaults = d
	}
}

// New creates a Pool over ports. Call Initialize before use.
func New(st *store.Store, launchers launcher.Set, ports port.Range, opts ...Option) *Pool {
	p := &Pool{
		handles:   make(map[string]instance.Handle),
		store:     st,
		launchers: launchers,
		ports:     ports,
		defaults: Defaults{
			Mode:    instance.ModeHeadless,
			Timeout: DefaultTimeout,
			URL:     "about:blank",
		},
		now:     time.Now,
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capacity is the number of slots.
func (p *Pool) Capacity() int {
	return p.ports.Size()
}

// Ports is the configured port range.
func (p *Pool) Ports() port.Range {
	return p.ports
}

// Initialize prepares the store and brings every slot to idle. Browsers
// started before a restart cannot be re-adopted, so any slot that is not
// idle is stopped best-effort and reset.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.InitSchema(ctx); err != nil {
		return poolerrors.StoreError("init schema", err)
	}

	ports := p.ports.Ports()
	p.launchers.CleanupOrphans(ctx, ports)

	created, err := p.store.EnsureSlots(ctx, ports)
	if err != nil {
		return poolerrors.StoreError("create slots", err)
	}

	slots, err := p.store.List(ctx)
	if err != nil {
		return poolerrors.StoreError("list", err)
	}
	reconciled := 0
	for _, slot := range slots {
		if slot.Status == instance.StatusIdle {
			continue
		}
		p.reclaimLocked(ctx, slot, ReasonReconcile)
		reconciled++
	}

	removed, err := p.store.RemoveOutside(ctx, p.ports.From, p.ports.To)
	if err != nil {
		return poolerrors.StoreError("prune", err)
	}
	for _, id := range removed {
		logging.Debug("removed slot outside port range", "instance", id)
		if p.audit == nil {
			continue
		}
		if err := p.audit.Remove(id); err != nil {
			logging.Warn("failed to remove audit log", "instance", id, "error", err)
		}
	}

	logging.Info("pool initialized",
		"ports", p.ports.String(),
		"capacity", p.Capacity(),
		"created", created,
		"reconciled", reconciled,
		"removed", len(removed))
	p.updateGauge(ctx)
	return nil
}

func (p *Pool) withDefaults(req AllocateRequest) (AllocateRequest, error) {
	if req.AgentID == "" {
		return req, poolerrors.ValidationError("agent_id is required")
	}
	if req.URL == "" {
		req.URL = p.defaults.URL
	}
	if req.Mode == "" {
		req.Mode = p.defaults.Mode
	}
	if req.Timeout == 0 {
		req.Timeout = p.defaults.Timeout
	}
	if req.Timeout < 0 {
		return req, poolerrors.ValidationError(fmt.Sprintf("timeout must be positive, got %s", req.Timeout))
	}
	if req.Timeout > MaxTimeout {
		return req, poolerrors.ValidationError(fmt.Sprintf("timeout must be at most %s, got %s", MaxTimeout, req.Timeout))
	}
	if !p.launchers.Supports(req.Mode) {
		return req, poolerrors.ValidationError(fmt.Sprintf("mode %q is not available", req.Mode))
	}
	return req, nil
}

// Allocate leases a slot to req.AgentID. An agent that already holds a
// lease gets that lease back unchanged. Otherwise the lowest idle port is
// started in the requested mode; with no idle slot the call fails at once
// with CapacityExhausted.
//
// Once a slot is marked starting, cancelling ctx has no effect.
func (p *Pool) Allocate(ctx context.Context, req AllocateRequest) (instance.Lease, error) {
	req, err := p.withDefaults(req)
	if err != nil {
		return instance.Lease{}, err
	}
	log := logging.With("agent", req.AgentID, "mode", req.Mode)

	p.mu.Lock()
	defer p.mu.Unlock()

	existing, err := p.store.FindAgentAllocation(ctx, req.AgentID)
	if err == nil {
		log.Debug("agent already holds a lease", "instance", existing.InstanceID)
		p.metrics.AllocationAttempt(existing.Mode, metrics.OutcomeReused)
		return existing.Lease(), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return instance.Lease{}, poolerrors.StoreError("find allocation", err)
	}

	slot, err := p.store.FindIdle(ctx)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("no idle slot", "capacity", p.Capacity())
		p.metrics.AllocationAttempt(req.Mode, metrics.OutcomeExhausted)
		return instance.Lease{}, poolerrors.CapacityExhausted(p.Capacity())
	}
	if err != nil {
		return instance.Lease{}, poolerrors.StoreError("find idle", err)
	}

	slot.Status = instance.StatusStarting
	slot.Mode = req.Mode
	if err := p.store.Upsert(ctx, slot); err != nil {
		return instance.Lease{}, poolerrors.StoreError("mark starting", err)
	}
	log = log.With("instance", slot.InstanceID)
	log.Debug("starting browser", "url", req.URL)

	// Capacity is committed: from here the allocation runs to completion.
	ctx = context.WithoutCancel(ctx)

	began := time.Now()
	res, err := p.launchers.Start(ctx, req.Mode, slot.Port, req.URL)
	p.metrics.LaunchDuration(req.Mode, time.Since(began), err == nil)
	if err != nil {
		log.Error("launch failed", "error", err)
		p.launchFailedLocked(ctx, slot, err)
		return instance.Lease{}, poolerrors.LaunchFailed(slot.InstanceID, err)
	}

	now := p.now()
	slot = instance.Slot{
		InstanceID:    slot.InstanceID,
		Port:          slot.Port,
		Status:        instance.StatusAllocated,
		Mode:          req.Mode,
		ProcessID:     res.ProcessID,
		TunnelID:      res.TunnelID,
		AgentID:       req.AgentID,
		AllocatedAt:   now,
		ExpiresAt:     now.Add(req.Timeout),
		LastHeartbeat: now,
	}
	if err := p.store.Upsert(ctx, slot); err != nil {
		// The lease cannot be recorded; do not leave a browser nobody owns.
		log.Error("failed to persist allocation, stopping browser", "error", err)
		p.launchers.Stop(ctx, slot.Handle())
		p.resetLocked(ctx, slot.Port)
		return instance.Lease{}, poolerrors.StoreError("persist allocation", err)
	}
	p.setHandle(slot.Handle())

	log.Info("instance allocated", "port", slot.Port, "expires_at", slot.ExpiresAt, "pid", slot.ProcessID, "tunnel_pid", slot.TunnelID)
	p.record(audit.EventAllocate, slot.InstanceID, req.AgentID, fmt.Sprintf("mode=%s timeout=%s", req.Mode, req.Timeout))
	p.metrics.AllocationAttempt(req.Mode, metrics.OutcomeAllocated)
	p.updateGauge(ctx)
	return slot.Lease(), nil
}

// launchFailedLocked records the failed start as crashed and then
// returns the slot straight to idle; no agent ever owned it.
func (p *Pool) launchFailedLocked(ctx context.Context, slot instance.Slot, cause error) {
	slot.Status = instance.StatusCrashed
	if err := p.store.Upsert(ctx, slot); err != nil {
		logging.Warn("failed to mark slot crashed", "instance", slot.InstanceID, "error", err)
	}
	p.resetLocked(ctx, slot.Port)

	p.record(audit.EventLaunchFailed, slot.InstanceID, "", cause.Error())
	p.metrics.AllocationAttempt(slot.Mode, metrics.OutcomeLaunchFailed)
	p.updateGauge(ctx)
}

// Release returns a slot to idle. When agentID is set it must own the
// slot. Releasing an idle slot succeeds without doing anything.
func (p *Pool) Release(ctx context.Context, instanceID, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.getLocked(ctx, instanceID)
	if err != nil {
		return err
	}
	if slot.Status == instance.StatusIdle {
		logging.Debug("release of idle slot", "instance", instanceID)
		return nil
	}
	if agentID != "" && slot.AgentID != agentID {
		return poolerrors.OwnershipMismatch(instanceID, agentID)
	}

	p.reclaimLocked(ctx, slot, ReasonRelease)
	return nil
}

// ExpireSlot reclaims instanceID if its lease has passed at now. The
// check is repeated under the lock, so a slot released and allocated
// again since it was listed as expired is left alone.
func (p *Pool) ExpireSlot(ctx context.Context, instanceID string, now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.getLocked(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if !slot.Expired(now) {
		return false, nil
	}
	p.reclaimLocked(ctx, slot, ReasonExpire)
	return true, nil
}

// ReclaimCrashed reclaims the slot behind h if h is still its current
// handle. A slot that has since been released or re-launched is left alone.
func (p *Pool) ReclaimCrashed(ctx context.Context, h instance.Handle) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.handle(h.InstanceID)
	if !ok || current != h {
		return false, nil
	}
	slot, err := p.getLocked(ctx, h.InstanceID)
	if err != nil {
		return false, err
	}
	if slot.Status != instance.StatusAllocated {
		return false, nil
	}
	p.reclaimLocked(ctx, slot, ReasonCrash)
	return true, nil
}

// reclaimLocked stops the browser behind slot and resets the row to idle.
// Neither step can fail the caller: problems are logged.
func (p *Pool) reclaimLocked(ctx context.Context, slot instance.Slot, reason Reason) {
	ctx = context.WithoutCancel(ctx)
	log := logging.With("instance", slot.InstanceID, "agent", slot.AgentID, "reason", reason)

	if slot.Mode != "" {
		p.launchers.Stop(ctx, slot.Handle())
	}
	p.resetLocked(ctx, slot.Port)

	log.Info("instance released")
	p.record(reasonEvents[reason], slot.InstanceID, slot.AgentID, string(slot.Status))
	p.metrics.Released(string(reason))
	p.updateGauge(ctx)
}

// resetLocked persists port as idle and forgets its handle.
func (p *Pool) resetLocked(ctx context.Context, port int) {
	idle := instance.IdleSlot(port)
	if err := p.store.Upsert(ctx, idle); err != nil {
		logging.Error("failed to reset slot", "instance", idle.InstanceID, "error", err)
	}
	p.deleteHandle(idle.InstanceID)
}

func (p *Pool) getLocked(ctx context.Context, instanceID string) (instance.Slot, error) {
	slot, err := p.store.Get(ctx, instanceID)
	if errors.Is(err, store.ErrNotFound) {
		return instance.Slot{}, poolerrors.NotFound(instanceID)
	}
	if err != nil {
		return instance.Slot{}, poolerrors.StoreError("get", err)
	}
	return slot, nil
}

// Heartbeat records that agentID is still using instanceID. It never
// extends the lease.
func (p *Pool) Heartbeat(ctx context.Context, instanceID, agentID string) error {
	if agentID == "" {
		return poolerrors.ValidationError("agent_id is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ok, err := p.store.UpdateHeartbeat(ctx, instanceID, agentID, p.now())
	if err != nil {
		return poolerrors.StoreError("heartbeat", err)
	}
	p.metrics.Heartbeat(ok)
	if ok {
		return nil
	}

	if _, err := p.getLocked(ctx, instanceID); err != nil {
		return err
	}
	return poolerrors.OwnershipMismatch(instanceID, agentID)
}

// Status returns the slot for instanceID.
func (p *Pool) Status(ctx context.Context, instanceID string) (instance.Slot, error) {
	slot, err := p.store.Get(ctx, instanceID)
	if errors.Is(err, store.ErrNotFound) {
		return instance.Slot{}, poolerrors.NotFound(instanceID)
	}
	if err != nil {
		return instance.Slot{}, poolerrors.StoreError("get", err)
	}
	return slot, nil
}

// List returns every slot ordered by port.
func (p *Pool) List(ctx context.Context) ([]instance.Slot, error) {
	slots, err := p.store.List(ctx)
	if err != nil {
		return nil, poolerrors.StoreError("list", err)
	}
	return slots, nil
}

// Expired lists allocated slots whose lease ended before now.
func (p *Pool) Expired(ctx context.Context, now time.Time) ([]instance.Slot, error) {
	slots, err := p.store.FindExpired(ctx, now)
	if err != nil {
		return nil, poolerrors.StoreError("find expired", err)
	}
	return slots, nil
}

// LiveHandles returns the handles of running slots that can be probed,
// ordered by port.
func (p *Pool) LiveHandles() []instance.Handle {
	p.hmu.RLock()
	defer p.hmu.RUnlock()

	handles := make([]instance.Handle, 0, len(p.handles))
	for _, h := range p.handles {
		if h.Live() {
			handles = append(handles, h)
		}
	}
	slices.SortFunc(handles, func(a, b instance.Handle) int { return a.Port - b.Port })
	return handles
}

// Probe asks the launcher whether the browser behind h is running.
func (p *Pool) Probe(ctx context.Context, h instance.Handle) (bool, error) {
	return p.launchers.IsRunning(ctx, h)
}

// Now is the pool clock.
func (p *Pool) Now() time.Time {
	return p.now()
}

// Shutdown stops every running browser and resets its slot. It returns
// the number of slots reclaimed.
func (p *Pool) Shutdown(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slots, err := p.store.List(ctx)
	if err != nil {
		return 0, poolerrors.StoreError("list", err)
	}

	n := 0
	for _, slot := range slots {
		if slot.Status == instance.StatusIdle {
			continue
		}
		p.reclaimLocked(ctx, slot, ReasonShutdown)
		n++
	}
	logging.Info("pool shut down", "stopped", n)
	return n, nil
}

func (p *Pool) handle(instanceID string) (instance.Handle, bool) {
	p.hmu.RLock()
	defer p.hmu.RUnlock()
	h, ok := p.handles[instanceID]
	return h, ok
}

func (p *Pool) setHandle(h instance.Handle) {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.handles[h.InstanceID] = h
}

func (p *Pool) deleteHandle(instanceID string) {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	delete(p.handles, instanceID)
}

func (p *Pool) record(eventType audit.EventType, instanceID, agentID, details string) {
	if p.audit == nil {
		return
	}
	err := p.audit.Log(audit.Event{
		Timestamp: p.now(),
		Type:      eventType,
		Instance:  instanceID,
		Agent:     agentID,
		Details:   details,
	})
	if err != nil {
		logging.Warn("failed to write audit event", "instance", instanceID, "type", eventType, "error", err)
	}
}

func (p *Pool) updateGauge(ctx context.Context) {
	counts, err := p.store.CountByStatus(ctx)
	if err != nil {
		logging.Debug("failed to count slots", "error", err)
		return
	}
	p.metrics.SlotsByStatus(counts)
}
