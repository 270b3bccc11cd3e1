// Package wager is the single owner of wagering state. It serializes every
// mutation, applies the domain rules from ledger, pool, lifecycle and
// period, persists the result with revision-checked writes, and publishes an
// immutable snapshot for readers.
//
// A mutation that writes more than one record registers a compensating
// write for every step that succeeded. When a later step fails the
// compensations run newest first, so callers observe either the whole
// change or none of it.
package wager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/friendsbet/bet-engine/internal/events"
	"github.com/friendsbet/bet-engine/internal/lifecycle"
	"github.com/friendsbet/bet-engine/internal/metrics"
	"github.com/friendsbet/bet-engine/internal/model"
	"github.com/friendsbet/bet-engine/internal/notify"
	"github.com/friendsbet/bet-engine/internal/period"
	"github.com/friendsbet/bet-engine/internal/pool"
	"github.com/friendsbet/bet-engine/internal/store"
)

// PayoutFunc decides who is credited when a bet resolves. The bet passed in
// is already resolved. A nil PayoutFunc credits nobody.
type PayoutFunc func(b model.Bet) []pool.Payout

// Config holds the tunables of the service.
type Config struct {
	StartingBalance int64
	DailyBonus      int64 // 0 disables the login bonus
	DefaultAvatar   string
	Policy          lifecycle.Policy
	StoreTimeout    time.Duration
	Calendar        period.Calendar
}

// DefaultConfig returns the configuration the group started with.
func DefaultConfig() Config {
	return Config{
		StartingBalance: 100,
		DefaultAvatar:   "👤",
		StoreTimeout:    2 * time.Second,
		Calendar:        period.NewCalendar(time.UTC),
	}
}

// Snapshot is a consistent view of all state, replaced as a whole after
// every committed mutation. Values reachable from a Snapshot must not be
// modified.
type Snapshot struct {
	Users    []model.User // creation order
	Bets     []model.Bet  // newest first
	Globals  model.Globals
	LoadedAt time.Time
}

// Service owns the wagering state. Create one with NewService and share the
// handle; there is no package-level instance.
type Service struct {
	store    store.Store
	cfg      Config
	log      *zap.Logger
	notifier notify.Notifier
	events   events.Publisher
	payout   PayoutFunc
	now      func() time.Time
	newID    func() string

	mu   sync.Mutex // serializes mutations and Refresh
	snap atomic.Pointer[Snapshot]
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where change signals go after a commit.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPublisher sets the domain event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithPayout sets the payout hook run on resolution.
func WithPayout(fn PayoutFunc) Option {
	return func(s *Service) { s.payout = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs overrides id generation.
func WithIDs(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a service on top of st. Call Refresh before serving
// reads so the snapshot reflects stored state.
func NewService(st store.Store, cfg Config, log *zap.Logger, opts ...Option) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultConfig().StoreTimeout
	}
	if cfg.Calendar.Location == nil {
		cfg.Calendar = period.NewCalendar(time.UTC)
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:    st,
		cfg:      cfg,
		log:      log.Named("wager"),
		notifier: notify.Nop{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(&Snapshot{})
	return s
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// Refresh reloads users, bets and globals from the store and replaces the
// snapshot. It is what a change notification triggers.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload(ctx)
}

func (s *Service) reload(ctx context.Context) error {
	var (
		users   []model.User
		bets    []model.Bet
		globals model.Globals
	)
	if err := s.call(ctx, "load users", func(ctx context.Context) (err error) {
		users, err = s.store.LoadUsers(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := s.call(ctx, "load bets", func(ctx context.Context) (err error) {
		bets, err = s.store.LoadBets(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := s.call(ctx, "load globals", func(ctx context.Context) (err error) {
		globals, err = s.store.LoadGlobals(ctx)
		return err
	}); err != nil {
		return err
	}

	period.Order(users)
	next := &Snapshot{Users: users, Bets: bets, Globals: globals, LoadedAt: s.now()}
	s.snap.Store(next)
	metrics.OpenBets.Set(float64(next.openBets()))
	return nil
}

// Snapshot returns the current read view.
func (s *Service) Snapshot() *Snapshot {
	return s.snap.Load()
}

// call runs one store operation under the configured timeout. Missing
// records surface as ErrNotFound; every other failure is ErrStorageTimeout.
func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	err := fn(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrStorageTimeout, op, err)
	}
}

// outbox collects what to announce once a mutation has committed.
type outbox struct {
	signals []notify.Signal
	events  []events.Event
}

func (o *outbox) signal(entity, id, action string) {
	o.signals = append(o.signals, notify.Signal{Entity: entity, ID: id, Action: action})
}

func (o *outbox) event(e events.Event) {
	o.events = append(o.events, e)
}

// mutate runs fn under the write lock, then announces its outbox. Signals
// and events go out after the lock is released and only on success.
func (s *Service) mutate(ctx context.Context, op string, fn func(ctx context.Context, out *outbox) error) error {
	start := time.Now()
	var out outbox

	s.mu.Lock()
	err := fn(ctx, &out)
	s.mu.Unlock()

	metrics.OpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := Kind(err)
		metrics.Rejections.WithLabelValues(op, kind).Inc()
		if kind == KindStorageTimeout || kind == KindInternal {
			s.log.Error("operation failed", zap.String("op", op), zap.Error(err))
		} else {
			s.log.Debug("operation rejected", zap.String("op", op), zap.String("kind", kind))
		}
		return err
	}

	s.flush(ctx, out)
	return nil
}

func (s *Service) flush(ctx context.Context, out outbox) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	for _, sig := range out.signals {
		s.notifier.Notify(ctx, sig)
	}
	if s.events != nil && len(out.events) > 0 {
		if err := s.events.Publish(ctx, out.events...); err != nil {
			s.log.Warn("event publish failed", zap.Int("events", len(out.events)), zap.Error(err))
		}
	}
}

// update publishes a copy of the current snapshot with fn applied. Callers
// hold s.mu.
func (s *Service) update(fn func(next *Snapshot)) {
	cur := s.snap.Load()
	next := &Snapshot{
		Users:    append([]model.User(nil), cur.Users...),
		Bets:     append([]model.Bet(nil), cur.Bets...),
		Globals:  cur.Globals.Clone(),
		LoadedAt: cur.LoadedAt,
	}
	fn(next)
	s.snap.Store(next)
	metrics.OpenBets.Set(float64(next.openBets()))
}

func (n *Snapshot) putUser(u model.User) {
	for i := range n.Users {
		if n.Users[i].ID == u.ID {
			n.Users[i] = u
			return
		}
	}
	n.Users = append(n.Users, u)
	period.Order(n.Users)
}

func (n *Snapshot) putBet(b model.Bet) {
	b = b.Clone()
	for i := range n.Bets {
		if n.Bets[i].ID == b.ID {
			n.Bets[i] = b
			return
		}
	}
	n.Bets = append([]model.Bet{b}, n.Bets...)
}

func (n *Snapshot) dropBet(id string) {
	for i := range n.Bets {
		if n.Bets[i].ID == id {
			n.Bets = append(n.Bets[:i:i], n.Bets[i+1:]...)
			return
		}
	}
}

func (n *Snapshot) openBets() int {
	count := 0
	for _, b := range n.Bets {
		if b.Status == model.StatusOpen {
			count++
		}
	}
	return count
}
