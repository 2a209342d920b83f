package controller

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// State is the in-memory reconciler state served on /state
type State struct {
	mu        sync.RWMutex
	lastEvent time.Time
}

// NewState creates a State whose last event is now
func NewState(now time.Time) *State {
	return &State{lastEvent: now}
}

// Touch records that a reconciliation request arrived at t
func (s *State) Touch(t time.Time) {
	s.mu.Lock()
	s.lastEvent = t
	s.mu.Unlock()
}

// LastEvent returns the time of the most recent reconciliation request
func (s *State) LastEvent() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastEvent
}

type stateResponse struct {
	LastEvent time.Time `json:"last_event"`
}

// ServeHTTP writes the state as JSON
func (s *State) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stateResponse{LastEvent: s.LastEvent().UTC()})
}
