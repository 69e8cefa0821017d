package main

import (
	"crypto/rand"
	"sync"
	"time"
)

// Registry holds every live session keyed by game ID, so each
// /survival/:gameid is its own isolated game.
type Registry struct {
	cfg         *Config
	oracle      Oracle
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

func newRegistry(cfg *Config, oracle Oracle) *Registry {
	r := &Registry{
		cfg:         cfg,
		oracle:      oracle,
		idleTimeout: cfg.sessionTimeout,
		sessions:    make(map[string]*Session),
	}
	if r.idleTimeout > 0 {
		go r.reaperLoop()
	}
	return r
}

// getOrCreate returns the session for this ID, creating an empty lobby on
// first reference. Concurrent calls with the same ID get the same session.
func (r *Registry) getOrCreate(gameID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[gameID]; ok {
		return s
	}

	s := newSession(r.cfg, gameID, r.oracle)
	r.sessions[gameID] = s
	return s
}

// lookup returns an existing session without creating one.
func (r *Registry) lookup(gameID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[gameID]
	return s, ok
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (r *Registry) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		r.mu.Lock()
		_, exists := r.sessions[id]
		r.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// create makes a fresh empty session under a new random ID.
func (r *Registry) create() *Session {
	return r.getOrCreate(r.newGameID())
}

// reaperLoop periodically removes sessions that have been idle longer
// than idleTimeout. Only runs when a timeout is configured; by default
// sessions live for the whole process.
func (r *Registry) reaperLoop() {
	ticker := time.NewTicker(r.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-r.idleTimeout)

		r.mu.Lock()
		for id, s := range r.sessions {
			s.mu.Lock()
			last := s.lastActive
			s.mu.Unlock()

			if last.Before(cutoff) {
				delete(r.sessions, id)
				logf(r.cfg, "GAMES: Reaped idle session %s", id)
				go s.hub.closeAll()
			}
		}
		r.mu.Unlock()
	}
}
