package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// snapshot is the on-disk shape written to PersistentStore's file: the
// token level x/time/rate reports for each tracked bucket at the moment of
// the write, keyed by "service:window" (e.g. "default:second").
type snapshot struct {
	SavedAt time.Time          `json:"saved_at"`
	Tokens  map[string]float64 `json:"tokens"`
}

// PersistentStore backs rate_limit.persistence_path (spec §6): a
// file-backed record of token-bucket levels so a shared-rate-limit
// deployment (§5 "shared across processes via a persistent token-bucket
// store") has somewhere to read starting state from. golang.org/x/time's
// Limiter exposes no setter for its current token count, only getters
// (TokensAt) and limit/burst setters, so a restored process cannot bit-
// for-bit resume a partially-drained bucket; it starts full (the safe
// direction — under- rather than over-restricting callers after a
// restart) while still publishing the last observed levels for
// operational visibility and for other processes polling the same file.
type PersistentStore struct {
	path string
	mu   sync.Mutex
	last snapshot
}

// NewPersistentStore opens (or creates) the snapshot file at path.
func NewPersistentStore(path string) *PersistentStore {
	return &PersistentStore{path: path}
}

func (p *PersistentStore) load() (snapshot, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot{}, nil
		}
		return snapshot{}, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func (p *PersistentStore) save(snap snapshot) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

// restore reads the last snapshot, logging the levels it found for
// operational visibility. It never errors the caller: a missing or
// corrupt snapshot file just means every bucket starts full.
func (l *Limiter) restore() {
	snap, err := l.store.load()
	if err != nil {
		slog.Warn("ratelimit: failed to load persisted bucket levels, starting full", "path", l.store.path, "error", err)
		return
	}
	if len(snap.Tokens) == 0 {
		return
	}
	l.store.mu.Lock()
	l.store.last = snap
	l.store.mu.Unlock()
	slog.Info("ratelimit: loaded persisted bucket levels", "path", l.store.path, "saved_at", snap.SavedAt, "buckets", len(snap.Tokens))
}

// persist writes the current token levels of every tracked bucket. Called
// after Wait/Allow so the file stays reasonably fresh without a dedicated
// background goroutine; a busy limiter just writes more often.
func (l *Limiter) persist() {
	if l.store == nil {
		return
	}
	now := time.Now()
	tokens := make(map[string]float64)
	collect := func(name string, lim *limiter) {
		if lim == nil {
			return
		}
		if lim.perSecond != nil {
			tokens[name+":second"] = lim.perSecond.TokensAt(now)
		}
		if lim.perMinute != nil {
			tokens[name+":minute"] = lim.perMinute.TokensAt(now)
		}
	}
	l.mu.Lock()
	collect("default", l.def)
	for name, lim := range l.services {
		collect(name, lim)
	}
	l.mu.Unlock()

	if err := l.store.save(snapshot{SavedAt: now, Tokens: tokens}); err != nil {
		slog.Warn("ratelimit: failed to persist bucket levels", "path", l.store.path, "error", err)
	}
}

// Levels returns the last-known token levels of every tracked bucket, read
// from the persisted snapshot if one was loaded at startup. It reports
// that startup snapshot only: later Wait/Allow calls rewrite the file but
// do not change what Levels returns.
func (l *Limiter) Levels(ctx context.Context) map[string]float64 {
	if l.store == nil {
		return nil
	}
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	out := make(map[string]float64, len(l.store.last.Tokens))
	for k, v := range l.store.last.Tokens {
		out[k] = v
	}
	return out
}
