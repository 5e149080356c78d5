package channel

import (
	"errors"
	"fmt"
	"sync"

	"avaneesh/malspp-go/pkg/spp"
)

var (
	ErrNoSession         = errors.New("no session for APID")
	ErrSessionExists     = errors.New("session already registered")
	ErrDefaultSessionSet = errors.New("default session already registered")
)

// Session consumes the space packets routed to it
type Session interface {
	// OnPacket is called on the channel's read loop for every packet
	// whose APID the session claims
	OnPacket(pkt *spp.Packet) error

	// APIDs returns the primary APIDs claimed by this session. An empty
	// list makes the session the default for unclaimed APIDs.
	APIDs() []uint16

	// Name identifies the session in logs
	Name() string
}

// Router routes packets to sessions based on primary APID
type Router struct {
	sessions map[uint16]Session // Key: APID
	fallback Session
	mu       sync.RWMutex
}

// NewRouter creates a new router
func NewRouter() *Router {
	return &Router{
		sessions: make(map[uint16]Session),
	}
}

// AddSession adds a session to the router
func (r *Router) AddSession(session Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	apids := session.APIDs()
	if len(apids) == 0 {
		if r.fallback != nil {
			return ErrDefaultSessionSet
		}
		r.fallback = session
		return nil
	}

	// Check if any APID is already in use
	for _, apid := range apids {
		if _, exists := r.sessions[apid]; exists {
			return fmt.Errorf("%w: APID %d", ErrSessionExists, apid)
		}
	}
	for _, apid := range apids {
		r.sessions[apid] = session
	}
	return nil
}

// RemoveSession removes every route to session
func (r *Router) RemoveSession(session Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fallback == session {
		r.fallback = nil
	}
	for apid, s := range r.sessions {
		if s == session {
			delete(r.sessions, apid)
		}
	}
}

// Route routes a packet to the session claiming its APID, or to the
// default session. Returns ErrNoSession if neither exists.
func (r *Router) Route(pkt *spp.Packet) error {
	r.mu.RLock()
	session, exists := r.sessions[pkt.APID]
	if !exists {
		session = r.fallback
	}
	r.mu.RUnlock()

	if session == nil {
		return fmt.Errorf("%w %d", ErrNoSession, pkt.APID)
	}
	return session.OnPacket(pkt)
}

// GetSession returns the session claiming apid
func (r *Router) GetSession(apid uint16) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[apid]
	if !exists && r.fallback != nil {
		return r.fallback, true
	}
	return session, exists
}

// GetSessionCount returns the number of distinct sessions
func (r *Router) GetSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[Session]struct{})
	for _, s := range r.sessions {
		seen[s] = struct{}{}
	}
	if r.fallback != nil {
		seen[r.fallback] = struct{}{}
	}
	return len(seen)
}

// Clear removes all sessions
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[uint16]Session)
	r.fallback = nil
}
