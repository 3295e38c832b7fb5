package state

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Listener is called with the new state after every dispatch.
type Listener func(AppState)

// Store owns the current state. Dispatches are serialized.
type Store struct {
	mu        sync.RWMutex
	state     AppState
	listeners map[int]Listener
	nextID    int
	log       *log.Entry
}

// NewStore starts from initial, or from Initial() when initial is nil.
func NewStore(initial *AppState) *Store {
	st := Initial()
	if initial != nil {
		st = initial.Clone()
	}
	return &Store{
		state:     st,
		listeners: make(map[int]Listener),
		log:       log.WithField("component", "store"),
	}
}

// Dispatch applies actions in order and notifies listeners once.
func (s *Store) Dispatch(actions ...Action) AppState {
	s.mu.Lock()
	next := s.state
	for _, action := range actions {
		next = action(next.Clone())
	}
	s.state = next
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	s.log.WithField("actions", len(actions)).Trace("dispatch")
	for _, l := range listeners {
		l(next.Clone())
	}
	return next.Clone()
}

// State returns a copy of the current state.
func (s *Store) State() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Subscribe registers l and returns a func removing it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Deco.Language
}

func (s *Store) RefLanguage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Deco.RefLanguage
}

// Credentials returns the access token and public key, suitable for
// api.WithCredentials.
func (s *Store) Credentials() (accessToken, publicKey string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Swissdata.AccessToken, s.state.Swissdata.PublicKey
}
