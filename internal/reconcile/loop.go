// ABOUTME: Reconciliation loop that stops agents whose owners' subscriptions are over
// ABOUTME: Sweeps immediately, then once per interval until the context is canceled

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/agentgate/internal/agentruntime"
	"github.com/2389/agentgate/internal/metrics"
	"github.com/2389/agentgate/internal/store"
	"github.com/2389/agentgate/internal/subscription"
)

// DefaultInterval is the pause between the end of one sweep and the start of the next.
const DefaultInterval = time.Hour

// State reports what the loop is doing.
type State int32

const (
	Idle State = iota
	Sweeping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sweeping:
		return "sweeping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Runtime is the part of the agent runtime client a sweep needs.
type Runtime interface {
	ListAgents(ctx context.Context) ([]agentruntime.Agent, error)
	StopAgent(ctx context.Context, agentID string) (*agentruntime.Reply, error)
}

// History resolves owners and records what sweeps did.
type History interface {
	GetAgentOwner(ctx context.Context, agentID string) (*store.AgentOwner, error)
	RecordSweep(ctx context.Context, rec *store.SweepRecord) error
	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
}

// Config wires a Loop. Runtime and Ledger are required.
type Config struct {
	Runtime  Runtime
	Ledger   subscription.LedgerStore
	History  History // optional
	Interval time.Duration
	Timeout  time.Duration // per runtime call
	Logger   *slog.Logger
	Now      func() time.Time
}

// Outcome is what happened to one listed agent.
type Outcome struct {
	AgentID string
	Owner   string // empty when unresolved
	Active  bool
	Stopped bool
	Err     error // stop failure
}

// Result summarizes a single sweep.
type Result struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Listed     int
	Active     int
	Stopped    int
	Failed     int
	ListErr    error
	Outcomes   []Outcome
}

// Loop periodically stops agents owned by identities without an active subscription.
type Loop struct {
	runtime  Runtime
	ledger   subscription.LedgerStore
	history  History
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	state   atomic.Int32
	sweepMu sync.Mutex
}

// New creates a Loop from cfg, applying defaults for unset fields.
func New(cfg Config) (*Loop, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("reconcile: runtime is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("reconcile: ledger is required")
	}

	l := &Loop{
		runtime:  cfg.Runtime,
		ledger:   cfg.Ledger,
		history:  cfg.History,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if l.interval <= 0 {
		l.interval = DefaultInterval
	}
	if l.timeout <= 0 {
		l.timeout = agentruntime.DefaultTimeout
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	l.logger = l.logger.With("component", "reconcile")
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

// State returns whether a sweep is in progress.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Interval returns the pause between sweeps.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Run sweeps immediately and then after every interval until ctx is canceled.
// It returns nil on cancellation; no sweep failure stops the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("reconciliation loop started", "interval", l.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reconciliation loop stopped")
			return nil
		case <-timer.C:
			l.Sweep(ctx)
			timer.Reset(l.interval)
		}
	}
}

// Sweep performs one reconciliation pass. Concurrent calls are serialized.
func (l *Loop) Sweep(ctx context.Context) *Result {
	l.sweepMu.Lock()
	defer l.sweepMu.Unlock()

	l.state.Store(int32(Sweeping))
	defer l.state.Store(int32(Idle))

	res := &Result{StartedAt: l.now()}
	start := time.Now()

	l.sweep(ctx, res)

	res.FinishedAt = l.now()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	l.record(ctx, res)
	return res
}

func (l *Loop) sweep(ctx context.Context, res *Result) {
	listCtx, cancel := context.WithTimeout(ctx, l.timeout)
	agents, err := l.runtime.ListAgents(listCtx)
	cancel()
	if err != nil {
		res.ListErr = err
		metrics.SweepsTotal.WithLabelValues(metrics.OutcomeListFailed).Inc()
		l.logger.Error("listing agents failed, skipping sweep", "error", err)
		return
	}
	metrics.SweepsTotal.WithLabelValues(metrics.OutcomeOK).Inc()

	res.Listed = len(agents)
	ledger := l.ledger.Read(ctx)
	now := l.now()

	for _, agent := range agents {
		out := Outcome{AgentID: agent.ID, Owner: l.resolveOwner(ctx, agent)}
		out.Active = out.Owner != "" && subscription.IsActive(out.Owner, ledger, now)
		if out.Active {
			res.Active++
			res.Outcomes = append(res.Outcomes, out)
			continue
		}

		stopCtx, cancel := context.WithTimeout(ctx, l.timeout)
		_, err := l.runtime.StopAgent(stopCtx, agent.ID)
		cancel()
		if err != nil {
			out.Err = err
			res.Failed++
			metrics.StopFailuresTotal.Inc()
			l.logger.Warn("stopping agent failed", "agent_id", agent.ID, "owner", out.Owner, "error", err)
		} else {
			out.Stopped = true
			res.Stopped++
			metrics.AgentsStoppedTotal.Inc()
			l.logger.Info("stopped agent", "agent_id", agent.ID, "owner", out.Owner)
			l.audit(ctx, out)
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	l.logger.Info("sweep complete",
		"listed", res.Listed,
		"active", res.Active,
		"stopped", res.Stopped,
		"failed", res.Failed,
	)
}

// resolveOwner prefers the listing's owner field, then the recorded owner.
func (l *Loop) resolveOwner(ctx context.Context, agent agentruntime.Agent) string {
	if agent.Owner != "" {
		return agent.Owner
	}
	if l.history == nil || agent.ID == "" {
		return ""
	}
	owner, err := l.history.GetAgentOwner(ctx, agent.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.logger.Warn("resolving agent owner failed", "agent_id", agent.ID, "error", err)
		}
		return ""
	}
	return owner.Identity
}

func (l *Loop) audit(ctx context.Context, out Outcome) {
	if l.history == nil {
		return
	}
	entry := &store.AuditEntry{
		Identity:   store.SweepIdentity,
		Action:     store.AuditSweepStop,
		TargetType: "agent",
		TargetID:   out.AgentID,
		Detail:     map[string]any{"owner": out.Owner},
	}
	if err := l.history.AppendAuditLog(ctx, entry); err != nil {
		l.logger.Warn("recording sweep stop failed", "agent_id", out.AgentID, "error", err)
	}
}

// record persists the sweep summary. History is best effort.
func (l *Loop) record(ctx context.Context, res *Result) {
	if l.history == nil {
		return
	}
	rec := &store.SweepRecord{
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Listed:     res.Listed,
		Active:     res.Active,
		Stopped:    res.Stopped,
		Failed:     res.Failed,
	}
	if res.ListErr != nil {
		rec.Error = res.ListErr.Error()
	}
	if err := l.history.RecordSweep(context.WithoutCancel(ctx), rec); err != nil {
		l.logger.Warn("recording sweep failed", "error", err)
	}
}
