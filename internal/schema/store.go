package schema

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/observability"
)

// DefaultTTL is how long a snapshot is served before the next read refreshes it.
const DefaultTTL = time.Hour

// Options configures a Store.
type Options struct {
	TTL time.Duration
	// Source is used by Get and Refresh. RefreshFrom takes an explicit one.
	Source    Source
	Persister Persister
	Logger    *zap.SugaredLogger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store serves the current snapshot and refreshes it when it expires.
// Reads are lock-free. Concurrent refreshes from the same source share one
// load; publishes are serialized.
type Store struct {
	ttl       time.Duration
	source    Source
	persister Persister
	logger    *zap.SugaredLogger
	now       func() time.Time

	current   atomic.Pointer[Snapshot]
	flight    singleflight.Group
	refreshMu sync.Mutex
}

// NewStore creates a store and loads the persisted snapshot, if any. A
// persisted snapshot older than the TTL is still loaded: it is served as a
// fallback when the first refresh fails.
func NewStore(opts Options) *Store {
	s := &Store{
		ttl:       opts.TTL,
		source:    opts.Source,
		persister: opts.Persister,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if s.persister != nil {
		snap, err := s.persister.Load()
		switch {
		case err != nil:
			s.logger.Warnw("ignoring unreadable schema cache", "error", err)
		case snap != nil:
			s.current.Store(snap)
			s.logger.Infow("loaded schema cache",
				"tables", snap.Len(),
				"captured_at", snap.CapturedAt(),
				"expired", snap.Expired(s.now(), s.ttl))
		}
	}
	return s
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Current returns the published snapshot without refreshing. It is nil
// before the first successful load.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Get returns the current snapshot, refreshing first when it is missing,
// expired or forceRefresh is set. A failed refresh falls back to the last
// snapshot with a warning; only when there is none does Get return an error.
func (s *Store) Get(ctx context.Context, forceRefresh bool) (*Snapshot, error) {
	if snap := s.current.Load(); snap != nil && !forceRefresh && !snap.Expired(s.now(), s.ttl) {
		return snap, nil
	}

	snap, err := s.refresh(ctx, s.source, forceRefresh)
	if err == nil {
		return snap, nil
	}
	if prev := s.current.Load(); prev != nil {
		s.logger.Warnw("schema refresh failed, serving previous snapshot",
			"error", err,
			"age", prev.Age(s.now()).String())
		return prev, nil
	}
	return nil, err
}

// Refresh pulls a new snapshot from the configured source.
func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	return s.refresh(ctx, s.source, true)
}

// RefreshFrom pulls a new snapshot from src. On failure the previous
// snapshot stays published and the error is returned.
func (s *Store) RefreshFrom(ctx context.Context, src Source) (*Snapshot, error) {
	return s.refresh(ctx, src, true)
}

func (s *Store) refresh(ctx context.Context, src Source, force bool) (*Snapshot, error) {
	if src == nil {
		return nil, errors.NewSchemaSourceFailure("none", errors.New("no schema source configured"))
	}

	// Waiters share the first caller's load, so it must not die with that
	// caller's context.
	lctx := context.WithoutCancel(ctx)
	v, err, shared := s.flight.Do(src.Name(), func() (any, error) {
		return s.load(lctx, src, force)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debugw("schema refresh shared", "source", src.Name())
	}
	return v.(*Snapshot), nil
}

func (s *Store) load(ctx context.Context, src Source, force bool) (*Snapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if snap := s.current.Load(); snap != nil && !force && !snap.Expired(s.now(), s.ttl) {
		return snap, nil
	}

	start := time.Now()
	tables, err := src.Load(ctx)
	if err != nil {
		observability.RecordSchemaRefresh(src.Name(), "failed", time.Since(start))
		return nil, errors.NewSchemaSourceFailure(src.Name(), err)
	}

	snap := NewSnapshot(s.now(), tables)
	if s.persister != nil {
		if err := s.persister.Save(snap); err != nil {
			// The snapshot is still valid in memory; the next refresh retries the write.
			s.logger.Errorw("failed to persist schema snapshot", "error", err)
		}
	}
	s.current.Store(snap)
	observability.RecordSchemaRefresh(src.Name(), "ok", time.Since(start))
	observability.SetSchemaSnapshot(snap.CapturedAt(), snap.Len())

	s.logger.Infow("schema refreshed",
		"source", src.Name(),
		"tables", snap.Len(),
		"duration_ms", time.Since(start).Milliseconds())
	return snap, nil
}
