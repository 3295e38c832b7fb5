package session

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"swissdata/internal/api"
)

// DefaultAuthControlDelay groups the rejections of one burst of requests.
const DefaultAuthControlDelay = 20 * time.Millisecond

var expiredTokenErrors = []string{"Token not found", "Token has expired"}

// AuthControl watches responses for rejected tokens and calls its handler
// once per burst of rejections.
type AuthControl struct {
	active  atomic.Bool
	delay   time.Duration
	handler func()
	log     *log.Entry

	mu    sync.Mutex
	timer *time.Timer
}

func NewAuthControl(delay time.Duration, notAuthenticated func()) *AuthControl {
	if delay <= 0 {
		delay = DefaultAuthControlDelay
	}
	a := &AuthControl{delay: delay, handler: notAuthenticated, log: log.WithField("component", "auth-control")}
	a.active.Store(true)
	return a
}

func (a *AuthControl) SetActive(active bool) { a.active.Store(active) }

// Middleware inspects every 500 answer. The response body is left
// readable for the caller.
func (a *AuthControl) Middleware() api.Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return api.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			resp, err := next.RoundTrip(req)
			if err != nil || resp.StatusCode != http.StatusInternalServerError || !a.active.Load() {
				return resp, err
			}
			raw, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(raw))
			if readErr != nil {
				return resp, nil
			}
			var body struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(raw, &body) != nil {
				return resp, nil
			}
			if slices.Contains(expiredTokenErrors, body.Error) && !strings.Contains(req.URL.String(), "/validate") {
				a.trigger()
			}
			return resp, nil
		})
	}
}

func (a *AuthControl) trigger() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, func() {
		a.log.Info("token rejected, logging out")
		if a.handler != nil {
			a.handler()
		}
	})
}

// Stop cancels a pending notification.
func (a *AuthControl) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
