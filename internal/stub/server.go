// Package stub serves a Swissdata-compatible REST API backed by a record
// store. It runs in process for tests and as cmd/swissdata-stub.
package stub

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	log "github.com/sirupsen/logrus"

	"swissdata/internal/auth"
	"swissdata/internal/config"
	"swissdata/internal/storage"
	"swissdata/internal/store"
)

// Call is one request received by the server.
type Call struct {
	Method      string
	Path        string
	Query       string
	ContentType string
	Body        []byte
}

type pendingAuth struct {
	userID string
	code   string
}

type pendingAccount struct {
	fields  store.Record
	code    string
	expires time.Time
	resent  int
}

type pendingReset struct {
	userID string
	code   string
}

type Server struct {
	cfg     config.StubConfig
	app     *fiber.App
	records store.RecordStore
	files   *storage.Local
	tokens  *auth.Issuer
	log     *log.Entry

	mu       sync.Mutex
	calls    []Call
	offline  bool
	pending  map[string]pendingAuth
	accounts map[string]*pendingAccount
	resets   map[string]pendingReset
}

// New builds the server and its routes. files may be nil, in which case
// uploads land in cfg.StoragePath.
func New(cfg config.StubConfig, records store.RecordStore, files *storage.Local) *Server {
	if files == nil {
		files = storage.NewLocal(cfg.StoragePath)
	}
	s := &Server{
		cfg:      cfg,
		records:  records,
		files:    files,
		tokens:   auth.NewIssuer(cfg.JWTSecret, auth.AccessTokenTTL),
		log:      log.WithField("component", "stub"),
		pending:  make(map[string]pendingAuth),
		accounts: make(map[string]*pendingAccount),
		resets:   make(map[string]pendingReset),
	}

	bodyLimit := 4 * 1024 * 1024
	if cfg.MaxFileSize > 0 && int(cfg.MaxFileSize)*2 > bodyLimit {
		bodyLimit = int(cfg.MaxFileSize) * 2
	}
	s.app = fiber.New(fiber.Config{
		ErrorHandler:          s.errorHandler,
		Immutable:             true,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	if cfg.RequestLog {
		s.app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency}\n",
		}))
	}
	s.app.Use(s.recordCall)
	s.app.Use(s.checkAPIKey)
	s.routes()
	return s
}

func (s *Server) App() *fiber.App { return s.app }

// Issuer exposes the token issuer, mainly to mint tokens in tests.
func (s *Server) Issuer() *auth.Issuer { return s.tokens }

func (s *Server) routes() {
	optional := auth.Middleware(s.tokens, false)
	required := auth.Middleware(s.tokens, true)

	s.app.Get("/status", s.status)

	a := s.app.Group("/auth")
	a.Post("/token", s.token)
	a.Post("/authenticated", required, s.authenticated)
	a.Post("/revoke-token", optional, s.revokeToken)
	a.Post("/forgot-password", s.forgotPassword)
	a.Put("/reset-password", s.resetPassword)

	u := s.app.Group("/user")
	u.Get("/current", required, s.currentUser)
	u.Get("/exists/:type/:value", s.userExists)
	u.Post("/create-account", s.createAccount)
	u.Put("/resend-code", s.resendCode)
	u.Put("/hide-onboarding", required, s.hideOnboarding)
	s.app.Get("/profile/current", required, s.currentProfile)

	for _, prefix := range []string{"/dynamicdata/:slug", "/:collection"} {
		s.app.Get(prefix, optional, s.list)
		s.app.Post(prefix, optional, s.create)
		s.app.Get(prefix+"/:id", optional, s.getOne)
		s.app.Put(prefix+"/:id", optional, s.update)
		s.app.Delete(prefix+"/:id", optional, s.remove)
	}
}

// Listen serves on addr until the app is shut down.
func (s *Server) Listen(addr string) error {
	s.log.WithField("addr", addr).Info("listening")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := err.Error()

	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		msg = fiberErr.Message
	case errors.Is(err, store.ErrNotFound):
		code = fiber.StatusNotFound
		msg = "Not found"
	default:
		s.log.WithError(err).Error("request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func (s *Server) recordCall(c *fiber.Ctx) error {
	call := Call{
		Method:      utils.CopyString(c.Method()),
		Path:        utils.CopyString(c.Path()),
		Query:       string(c.Request().URI().QueryString()),
		ContentType: utils.CopyString(c.Get(fiber.HeaderContentType)),
		Body:        append([]byte(nil), c.Body()...),
	}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	return c.Next()
}

func (s *Server) checkAPIKey(c *fiber.Ctx) error {
	if s.cfg.PublicKey == "" || c.Query("apiKey") == s.cfg.PublicKey {
		return c.Next()
	}
	return fiber.NewError(fiber.StatusUnauthorized, "Invalid apiKey")
}

// Calls returns a copy of every request received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount counts the requests received for method and path.
func (s *Server) CallCount(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, call := range s.calls {
		if call.Method == method && call.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) ResetCalls() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

// SetOffline makes /status answer 503 until switched back.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

func (s *Server) status(c *fiber.Ctx) error {
	s.mu.Lock()
	offline := s.offline
	s.mu.Unlock()
	if offline {
		return fiber.NewError(http.StatusServiceUnavailable, "Offline")
	}
	return c.JSON(fiber.Map{"status": "OK"})
}

// public strips password material from a stored record.
func public(rec store.Record) store.Record {
	out := make(store.Record, len(rec))
	for k, v := range rec {
		if strings.HasPrefix(k, "_password") {
			continue
		}
		out[k] = v
	}
	return out
}
