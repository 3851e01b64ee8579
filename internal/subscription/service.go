// ABOUTME: Subscription service exposing Extend, Status, and the Guard pre-check
// ABOUTME: Builds on the ledger store and the pure expiry predicate

package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Service errors
var (
	// ErrMissingIdentity means the caller identity could not be determined.
	ErrMissingIdentity = errors.New("identity is required")

	// ErrInvalidPeriods means the requested period count is outside [1, MaxPeriods].
	ErrInvalidPeriods = errors.New("periods must be between 1 and 1200")

	// ErrExpiryOverflow means the extension would push the expiry past MaxExpiryUnix.
	ErrExpiryOverflow = errors.New("subscription expiry would pass year 9999")

	// ErrSubscriptionOver is returned by Guard when the caller is not subscribed.
	ErrSubscriptionOver = errors.New("subscription is over")
)

const (
	// DefaultPeriod is one subscription increment.
	DefaultPeriod = 30 * 24 * time.Hour

	// DefaultCurrency labels the abstract cost unit.
	DefaultCurrency = "ProcessingUnits"

	// MaxPeriods bounds a single extension request.
	MaxPeriods = 1200
)

// Cost is the abstract charge for an extension.
type Cost struct {
	Currency string
	Used     int64
}

// Extension describes a completed extension.
type Extension struct {
	Identity string
	Periods  int
	Previous time.Time // stored expiry before the extension (epoch if none)
	Expiry   time.Time
	Cost     Cost
}

// Status is the result of a subscription lookup. An inactive status is a
// normal outcome, not an error.
type Status struct {
	Identity   string
	Active     bool
	Subscribed bool // an entry exists, possibly lapsed
	Expiry     time.Time
	Remaining  time.Duration
}

// Observer is notified after durable extensions and guard rejections.
// Implementations must not block for long; failures stay inside the observer.
type Observer interface {
	Extended(ctx context.Context, ext *Extension)
	Rejected(ctx context.Context, identity string)
}

// Service implements subscription operations on top of a LedgerStore.
type Service struct {
	store    LedgerStore
	period   time.Duration
	unitCost int64
	currency string
	now      func() time.Time
	observer Observer
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPeriod sets the duration of one period.
func WithPeriod(d time.Duration) Option {
	return func(s *Service) {
		if d >= time.Second {
			s.period = d
		}
	}
}

// WithUnitCost sets the cost of one period.
func WithUnitCost(cost int64, currency string) Option {
	return func(s *Service) {
		if cost > 0 {
			s.unitCost = cost
		}
		if currency != "" {
			s.currency = currency
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver registers an observer for extensions and rejections.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a Service backed by store.
func NewService(store LedgerStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		period:   DefaultPeriod,
		unitCost: 1,
		currency: DefaultCurrency,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "subscription")
	return s
}

// Period returns the configured period duration.
func (s *Service) Period() time.Duration {
	return s.period
}

// Extend adds periods to identity's subscription, counting from the later of
// now and the current expiry. The ledger read, computation, and write happen
// under the store lock.
func (s *Service) Extend(ctx context.Context, identity string, periods int) (*Extension, error) {
	if identity == "" {
		return nil, ErrMissingIdentity
	}
	if periods < 1 || periods > MaxPeriods {
		return nil, ErrInvalidPeriods
	}

	ext := &Extension{
		Identity: identity,
		Periods:  periods,
		Cost: Cost{
			Currency: s.currency,
			Used:     int64(periods) * s.unitCost,
		},
	}
	periodSecs := int64(s.period / time.Second)

	err := s.store.Update(ctx, func(l Ledger) error {
		now := s.now().Unix()
		current, _ := l.Expiry(identity)

		base := current.Unix()
		if now > base {
			base = now
		}
		added := int64(periods) * periodSecs
		if base > MaxExpiryUnix-added {
			return ErrExpiryOverflow
		}
		expiry := base + added
		l[identity] = expiry

		ext.Previous = current
		ext.Expiry = time.Unix(expiry, 0).UTC()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extending subscription: %w", err)
	}

	s.logger.Info("subscription extended",
		"identity", identity,
		"periods", periods,
		"expiry", ext.Expiry.Format(time.RFC3339),
		"cost", ext.Cost.Used,
	)
	if s.observer != nil {
		s.observer.Extended(ctx, ext)
	}
	return ext, nil
}

// Status reports whether identity currently holds an active subscription.
// It reads the ledger without taking the mutation lock.
func (s *Service) Status(ctx context.Context, identity string) (*Status, error) {
	if identity == "" {
		return nil, ErrMissingIdentity
	}

	ledger := s.store.Read(ctx)
	now := s.now()
	expiry, found := ledger.Expiry(identity)

	st := &Status{
		Identity:   identity,
		Active:     IsActive(identity, ledger, now),
		Subscribed: found,
		Expiry:     expiry,
	}
	if st.Active {
		st.Remaining = expiry.Sub(now).Truncate(time.Second)
	}
	return st, nil
}

// Guard runs op only if identity is active. Otherwise it returns
// ErrSubscriptionOver without calling op.
func (s *Service) Guard(ctx context.Context, identity string, op func(context.Context) error) error {
	st, err := s.Status(ctx, identity)
	if err != nil {
		return err
	}
	if !st.Active {
		s.logger.Info("guard rejected operation", "identity", identity)
		if s.observer != nil {
			s.observer.Rejected(ctx, identity)
		}
		return ErrSubscriptionOver
	}
	return op(ctx)
}
