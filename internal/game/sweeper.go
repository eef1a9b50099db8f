package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/store"
)

const DefaultSweepInterval = 5 * time.Second

// Lease lets one replica own a sweep tick. A lost or failed lease only costs
// duplicated work, since every sweep step is transactional.
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
}

// RedisLease is a Lease backed by SET NX with an expiry
type RedisLease struct {
	rdb   *redis.Client
	key   string
	owner string
}

func NewRedisLease(rdb *redis.Client, key, owner string) *RedisLease {
	if key == "" {
		key = "sweeper:lease"
	}
	if owner == "" {
		owner = newID()
	}
	return &RedisLease{rdb: rdb, key: key, owner: owner}
}

// Acquire takes the lease, or keeps it when this owner already holds it.
func (l *RedisLease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	holder, err := l.rdb.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if holder != l.owner {
		return false, nil
	}
	if err := l.rdb.Expire(ctx, l.key, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// TickReport is what one sweep accomplished
type TickReport struct {
	Skipped      bool
	MatchesMade  int
	QueueExpired int
	RoomsExpired int
	Errors       []error
}

// Sweeper periodically forms matches and expires stale queue entries and rooms.
type Sweeper struct {
	st    store.Store
	bc    events.Broadcaster
	rules Rules

	interval time.Duration
	lease    Lease
	clock    func() time.Time
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type SweeperOption func(*Sweeper)

func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLease(l Lease) SweeperOption {
	return func(s *Sweeper) { s.lease = l }
}

func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.clock = now }
}

func WithLogger(log zerolog.Logger) SweeperOption {
	return func(s *Sweeper) { s.log = log }
}

func NewSweeper(st store.Store, bc events.Broadcaster, rules Rules, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		st:       st,
		bc:       bc,
		rules:    rules,
		interval: DefaultSweepInterval,
		clock:    time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "sweeper").Logger()
	return s
}

// Start runs the sweep loop in the background until Stop is called or ctx ends.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop cancels the loop and waits for the current tick to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, s.clock())
		}
	}
}

// Tick runs one sweep. Its three steps are independent; each one logs and
// records its own failure and the others still run.
func (s *Sweeper) Tick(ctx context.Context, now time.Time) TickReport {
	ctx = s.log.WithContext(ctx)
	var report TickReport

	if s.lease != nil {
		held, err := s.lease.Acquire(ctx, s.interval)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("sweep lease unavailable, sweeping anyway")
		case !held:
			report.Skipped = true
			return report
		}
	}

	s.step(&report, "form matches", func() error {
		n, err := s.formMatches(ctx, now)
		report.MatchesMade = n
		return err
	})
	s.step(&report, "expire queue", func() error {
		n, err := ExpireQueue(ctx, s.st, s.bc, s.rules, now)
		report.QueueExpired = n
		return err
	})
	s.step(&report, "expire rooms", func() error {
		n, err := ExpireRooms(ctx, s.st, s.bc, s.rules, now)
		report.RoomsExpired = n
		return err
	})
	return report
}

func (s *Sweeper) formMatches(ctx context.Context, now time.Time) (int, error) {
	limit := s.rules.MaxMatchesPerTick
	if limit <= 0 {
		limit = 1
	}
	made := 0
	for made < limit {
		if _, err := FormMatch(ctx, s.st, s.bc, s.rules, now); err != nil {
			if errors.Is(err, ErrQueueNotReady) {
				return made, nil
			}
			return made, err
		}
		made++
	}
	return made, nil
}

func (s *Sweeper) step(report *TickReport, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s: panic: %v", name, r)
			s.log.Error().Err(err).Msg("sweep step panicked")
			report.Errors = append(report.Errors, err)
		}
	}()

	if err := fn(); err != nil {
		s.log.Error().Err(err).Str("step", name).Msg("sweep step failed")
		report.Errors = append(report.Errors, fmt.Errorf("%s: %w", name, err))
	}
}
