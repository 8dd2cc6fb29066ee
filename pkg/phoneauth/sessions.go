package phoneauth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/model"
)

// DefaultSessionTTL bounds how long an idle checkout session is kept
const DefaultSessionTTL = 24 * time.Hour

// SnapshotStore persists gate snapshots between requests
type SnapshotStore interface {
	GetGate(ctx context.Context, sessionID string) (*model.GateSnapshot, error)
	PutGate(ctx context.Context, snap *model.GateSnapshot) error
}

// Sessions rehydrates gates from a SnapshotStore
type Sessions struct {
	store    SnapshotStore
	provider Provider
	now      func() time.Time
	newID    func() string
	ttl      time.Duration
}

// NewSessions creates a session loader. A non-positive ttl uses DefaultSessionTTL.
func NewSessions(store SnapshotStore, provider Provider, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{
		store:    store,
		provider: provider,
		now:      time.Now,
		newID:    uuid.NewString,
		ttl:      ttl,
	}
}

// WithClock overrides the clock used for TTLs
func (s *Sessions) WithClock(now func() time.Time) *Sessions {
	cp := *s
	cp.now = now
	return &cp
}

// Load returns the gate for sessionID. An empty, unknown or expired id starts a fresh
// unverified session with a new id.
func (s *Sessions) Load(ctx context.Context, sessionID string) (*Gate, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		snap, err := s.store.GetGate(ctx, sessionID)
		switch {
		case err == nil:
			return NewGate(s.provider, *snap), nil
		case !serrors.IsNotFound(err):
			return nil, err
		}
	}
	return NewGate(s.provider, model.GateSnapshot{ID: s.newID(), State: model.GateUnverified}), nil
}

// Save persists the gate and extends its TTL
func (s *Sessions) Save(ctx context.Context, gate *Gate) error {
	snap := gate.Snapshot()
	snap.TTL = s.now().Add(s.ttl).Unix()
	if err := s.store.PutGate(ctx, &snap); err != nil {
		return err
	}
	gate.snap = snap
	return nil
}
