package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/interfaces"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// codeAlphabet leaves out glyphs that are easy to misread on a projector
// (0/O, 1/I/L)
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const maxCodeAttempts = 100

// Observer hears about session lifecycle changes; the application uses it
// for the results journal and metrics
type Observer interface {
	SessionCreated(code string, createdAt time.Time)
	SessionClosed(code string, reason string)
}

// Options configures a Registry
type Options struct {
	MaxAge     time.Duration
	CodeLength int
	Observer   Observer
}

// Registry is the single source of truth for which sessions exist
// ARCHITECTURAL DISCOVERY: The code→Session map is the only state shared
// across sessions; everything else lives behind a Session's own lock
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	out        interfaces.Broadcaster
	observer   Observer
	maxAge     time.Duration
	codeLength int

	now     func() time.Time
	newCode func(length int) (string, error)
}

// NewRegistry creates an empty registry
func NewRegistry(out interfaces.Broadcaster, opts Options) *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		out:        out,
		observer:   opts.Observer,
		maxAge:     opts.MaxAge,
		codeLength: opts.CodeLength,
		now:        time.Now,
		newCode:    randomCode,
	}
}

type createDecision int

const (
	mintFresh createDecision = iota
	reuseExisting
	evictAndMint
)

// decideCreate is the create-or-reuse rule on its own: reuse a live code,
// replace an expired one, otherwise start fresh
func decideCreate(existing *Session, found bool, now time.Time, maxAge time.Duration) createDecision {
	if !found || existing == nil {
		return mintFresh
	}
	if maxAge > 0 && now.Sub(existing.createdAt) > maxAge {
		return evictAndMint
	}
	return reuseExisting
}

// CreateSession returns the session for existingCode when it is still live,
// reassigning its host to hostConnectionID, and otherwise mints a new one.
// isExisting reports which happened.
func (r *Registry) CreateSession(hostConnectionID, existingCode string) (*Session, bool, error) {
	code := types.NormalizeCode(existingCode)

	r.mu.Lock()
	existing, found := r.sessions[code]
	var stale *Session
	switch decideCreate(existing, found, r.now(), r.maxAge) {
	case reuseExisting:
		r.mu.Unlock()
		if err := existing.reassignHost(hostConnectionID); err != nil {
			return nil, false, err
		}
		log.Printf("Rejoined session: code=%s host=%s", code, hostConnectionID)
		return existing, true, nil
	case evictAndMint:
		delete(r.sessions, code)
		stale = existing
	}

	fresh, err := r.mint(hostConnectionID)
	r.mu.Unlock()
	if stale != nil {
		r.closed(stale, ReasonExpired)
	}
	if err != nil {
		return nil, false, err
	}

	log.Printf("Created session: code=%s host=%s", fresh.code, hostConnectionID)
	if r.observer != nil {
		r.observer.SessionCreated(fresh.code, fresh.createdAt)
	}
	return fresh, false, nil
}

// mint must be called with r.mu held
func (r *Registry) mint(hostConnectionID string) (*Session, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := r.newCode(r.codeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate session code: %w", err)
		}
		if _, taken := r.sessions[code]; taken {
			continue
		}
		s := newSession(code, hostConnectionID, r.out, r.now)
		r.sessions[code] = s
		return s, nil
	}
	return nil, ErrCodeSpaceExhausted
}

// GetSession looks a code up case-insensitively. Sessions past the age
// limit are evicted on access.
func (r *Registry) GetSession(code string) (*Session, error) {
	code = types.NormalizeCode(code)

	r.mu.RLock()
	s, ok := r.sessions[code]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	if r.expired(s) {
		r.evict(s, ReasonExpired)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// CloseSession ends a session on the host's request
func (r *Registry) CloseSession(code, connectionID string) error {
	s, err := r.GetSession(code)
	if err != nil {
		return err
	}
	if !s.IsHost(connectionID) {
		return ErrNotHost
	}
	r.evict(s, ReasonClosedByHost)
	return nil
}

// HandleDisconnect removes a dropped connection from every session it was
// part of and returns the codes it touched
func (r *Registry) HandleDisconnect(connectionID string) []string {
	var touched []string
	for _, s := range r.snapshot() {
		wasHost, wasParticipant := s.disconnect(connectionID)
		if wasHost || wasParticipant {
			touched = append(touched, s.code)
		}
	}
	sort.Strings(touched)
	return touched
}

// EvictExpired closes every session past the age limit
func (r *Registry) EvictExpired() int {
	evicted := 0
	for _, s := range r.snapshot() {
		if r.expired(s) && r.evict(s, ReasonExpired) {
			evicted++
		}
	}
	if evicted > 0 {
		log.Printf("Evicted expired sessions: count=%d", evicted)
	}
	return evicted
}

// StartSweeper evicts expired sessions every interval until ctx ends
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.EvictExpired()
			}
		}
	}()
}

// CloseAll ends every live session, used on shutdown
func (r *Registry) CloseAll(reason string) {
	for _, s := range r.snapshot() {
		r.evict(s, reason)
	}
}

// List snapshots every live session, oldest first
func (r *Registry) List() []types.SessionInfo {
	sessions := r.snapshot()
	infos := make([]types.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		if !r.expired(s) {
			infos = append(infos, s.Snapshot(false))
		}
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Count returns the number of sessions in the map
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// GetStats returns registry statistics
func (r *Registry) GetStats() map[string]interface{} {
	sessions := r.snapshot()
	participants, rooms := 0, 0
	for _, s := range sessions {
		info := s.Snapshot(false)
		participants += info.ParticipantCount
		rooms += len(info.Rooms)
	}
	return map[string]interface{}{
		"active_sessions": len(sessions),
		"participants":    participants,
		"rooms":           rooms,
	}
}

func (r *Registry) expired(s *Session) bool {
	return r.maxAge > 0 && r.now().Sub(s.createdAt) > r.maxAge
}

// evict removes s if it is still the registered session for its code
func (r *Registry) evict(s *Session, reason string) bool {
	r.mu.Lock()
	current, ok := r.sessions[s.code]
	if !ok || current != s {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, s.code)
	r.mu.Unlock()

	r.closed(s, reason)
	return true
}

func (r *Registry) closed(s *Session, reason string) {
	s.close(reason)
	log.Printf("Closed session: code=%s reason=%s", s.code, reason)
	if r.observer != nil {
		r.observer.SessionClosed(s.code, reason)
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}
