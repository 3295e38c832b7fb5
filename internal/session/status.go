package session

import (
	"context"
	"time"

	"swissdata/internal/api"
	"swissdata/internal/state"
)

// StartCheckStatus checks /status now and then every interval until
// StopCheckingStatus or ctx ends. A running check loop is replaced.
func (s *Session) StartCheckStatus(ctx context.Context, interval time.Duration) {
	s.StopCheckingStatus()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.stopStatus, s.statusDone = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.CheckStatus(ctx)
		for {
			select {
			case <-ticker.C:
				s.CheckStatus(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Session) StopCheckingStatus() {
	s.mu.Lock()
	cancel, done := s.stopStatus, s.statusDone
	s.stopStatus, s.statusDone = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// CheckStatus updates the online flag from /status. Handlers are only
// notified on changes.
func (s *Session) CheckStatus(ctx context.Context) bool {
	online := s.fetchStatus(ctx)
	if ctx.Err() != nil {
		return online
	}
	want := state.OnlineNo
	if online {
		want = state.OnlineYes
	}
	if s.store.State().Swissdata.Online == want {
		return online
	}
	s.store.Dispatch(state.SetOnline(online))
	s.log.WithField("online", online).Info("api status changed")
	for _, fn := range s.onStatus {
		fn(online)
	}
	return online
}

func (s *Session) fetchStatus(ctx context.Context) bool {
	resp, err := s.client.Get(ctx, "/status", api.RequestOptions{})
	if err != nil {
		return false
	}
	body, err := api.DecodeObject(resp)
	if err != nil {
		return false
	}
	status, _ := body["status"].(string)
	return status == "OK"
}
