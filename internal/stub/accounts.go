package stub

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"swissdata/internal/auth"
	"swissdata/internal/store"
)

const accountValidationTTL = 24 * time.Hour

func bodyMap(c *fiber.Ctx) (map[string]any, error) {
	body := map[string]any{}
	if len(c.Body()) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	return body, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// SeedUser stores a user with the given password hash. Email and mobile
// are lowercased the way the client sends them.
func (s *Server) SeedUser(ctx context.Context, fields store.Record, password string) (store.Record, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	rec := fields.Clone()
	for _, key := range []string{"email", "mobile"} {
		if v, ok := rec[key].(string); ok {
			rec[key] = strings.ToLower(v)
		}
	}
	rec["_passwordHash"] = hash
	return s.records.Insert(ctx, "user", rec)
}

// Seed stores a record as is.
func (s *Server) Seed(ctx context.Context, collection string, rec store.Record) (store.Record, error) {
	return s.records.Insert(ctx, collection, rec)
}

// DoubleAuthCode returns the code expected for a double-auth token.
func (s *Server) DoubleAuthCode(token string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[token].code
}

// AccountCode returns the validation code of a pending account.
func (s *Server) AccountCode(token string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pa, ok := s.accounts[token]; ok {
		return pa.code
	}
	return ""
}

// ResetCode returns the code of a pending password reset.
func (s *Server) ResetCode(token string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets[token].code
}

func (s *Server) findUser(ctx context.Context, key, value string) (store.Record, error) {
	users, err := s.records.List(ctx, "user")
	if err != nil {
		return nil, err
	}
	value = strings.ToLower(value)
	for _, u := range users {
		for _, k := range []string{"email", "mobile"} {
			if key != "" && key != k {
				continue
			}
			if v, ok := u[k].(string); ok && v != "" && strings.ToLower(v) == value {
				return u, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (s *Server) issueAccess(c *fiber.Ctx, user store.Record) error {
	token, expires, err := s.tokens.Issue(user.ID(), stringList(user["roles"]))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"type":    "access",
		"token":   token,
		"expires": expires.UTC().Format(time.RFC3339),
	})
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	if list, ok := v.([]string); ok {
		return list
	}
	return out
}

func (s *Server) token(c *fiber.Ctx) error {
	body, err := bodyMap(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	if token := str(body, "token"); token != "" {
		s.mu.Lock()
		pa, ok := s.pending[token]
		if ok && pa.code == str(body, "code") {
			delete(s.pending, token)
		}
		s.mu.Unlock()
		if !ok || pa.code != str(body, "code") {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid code")
		}
		user, err := s.records.Get(ctx, "user", pa.userID)
		if err != nil {
			return err
		}
		return s.issueAccess(c, user)
	}

	user, err := s.findUser(ctx, "", str(body, "username"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid username or password")
	}
	if !auth.CheckPassword(str(body, "password"), str(user, "_passwordHash")) {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid username or password")
	}

	if double, _ := user["requireDoubleAuth"].(bool); double {
		token := auth.NewOpaqueToken()
		s.mu.Lock()
		s.pending[token] = pendingAuth{userID: user.ID(), code: auth.NewCode()}
		s.mu.Unlock()
		return c.JSON(fiber.Map{"type": "double-auth", "token": token})
	}
	return s.issueAccess(c, user)
}

func (s *Server) authenticated(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) revokeToken(c *fiber.Ctx) error {
	body, err := bodyMap(c)
	if err != nil {
		return err
	}
	token := str(body, "token")
	if token == "" {
		token = auth.TokenFrom(c)
	}
	if token != "" {
		s.tokens.Revoke(token)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) forgotPassword(c *fiber.Ctx) error {
	body, err := bodyMap(c)
	if err != nil {
		return err
	}
	user, err := s.findUser(c.UserContext(), "", str(body, "q"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "User not found")
	}
	token := auth.NewOpaqueToken()
	s.mu.Lock()
	s.resets[token] = pendingReset{userID: user.ID(), code: auth.NewCode()}
	s.mu.Unlock()
	return c.JSON(fiber.Map{"token": token})
}

func (s *Server) resetPassword(c *fiber.Ctx) error {
	body, err := bodyMap(c)
	if err != nil {
		return err
	}
	token := str(body, "token")
	s.mu.Lock()
	pr, ok := s.resets[token]
	s.mu.Unlock()
	if !ok || pr.code != str(body, "code") {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid code")
	}
	hash, err := auth.HashPassword(str(body, "newPassword"))
	if err != nil {
		return err
	}
	if _, err := s.records.Update(c.UserContext(), "user", pr.userID, store.Record{"_passwordHash": hash}); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.resets, token)
	s.mu.Unlock()
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) currentUser(c *fiber.Ctx) error {
	claims := auth.ClaimsFrom(c)
	user, err := s.records.Get(c.UserContext(), "user", claims.Subject)
	if err != nil {
		return c.JSON(nil)
	}
	return c.JSON(public(user))
}

func (s *Server) currentProfile(c *fiber.Ctx) error {
	claims := auth.ClaimsFrom(c)
	profiles, err := s.records.List(c.UserContext(), "profile")
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if str(p, "userId") == claims.Subject {
			return c.JSON(p)
		}
	}
	return c.JSON(nil)
}

func (s *Server) hideOnboarding(c *fiber.Ctx) error {
	claims := auth.ClaimsFrom(c)
	user, err := s.records.Update(c.UserContext(), "user", claims.Subject, store.Record{"hideOnboarding": true})
	if err != nil {
		return err
	}
	return c.JSON(public(user))
}

func (s *Server) userExists(c *fiber.Ctx) error {
	key := c.Params("type")
	if key != "email" && key != "mobile" {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid type")
	}
	user, err := s.findUser(c.UserContext(), key, c.Params("value"))
	if err != nil {
		return c.JSON(fiber.Map{"exists": false})
	}
	return c.JSON(fiber.Map{"exists": true, "id": user.ID()})
}

var accountFields = []string{"firstname", "lastname", "email", "mobile"}

func (s *Server) createAccount(c *fiber.Ctx) error {
	body, err := bodyMap(c)
	if err != nil {
		return err
	}
	if token := str(body, "token"); token != "" {
		return s.validateAccount(c, token, body)
	}

	ctx := c.UserContext()
	fields := store.Record{}
	for _, key := range accountFields {
		if v, ok := body[key].(string); ok && v != "" {
			fields[key] = v
		}
	}
	if str(fields, "email") == "" && str(fields, "mobile") == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Email or mobile is required")
	}
	for _, key := range []string{"email", "mobile"} {
		if v := str(fields, key); v != "" {
			if _, err := s.findUser(ctx, key, v); err == nil {
				return fiber.NewError(fiber.StatusBadRequest, "This "+key+" already exists")
			}
		}
	}
	hash, err := auth.HashPassword(str(body, "password"))
	if err != nil {
		return err
	}
	fields["_passwordHash"] = hash
	if extra, ok := body["extraData"]; ok && extra != nil {
		fields["extraData"] = extra
	}

	token := auth.NewOpaqueToken()
	pa := &pendingAccount{fields: fields, code: auth.NewCode(), expires: time.Now().Add(accountValidationTTL)}
	s.mu.Lock()
	s.accounts[token] = pa
	s.mu.Unlock()

	return c.JSON(fiber.Map{
		"id":                      store.NewID(),
		"token":                   token,
		"emailValidated":          false,
		"mobileValidated":         false,
		"createAccountValidation": "emailOrMobile",
		"expires":                 pa.expires.UTC().Format(time.RFC3339),
	})
}

func (s *Server) validateAccount(c *fiber.Ctx, token string, body map[string]any) error {
	s.mu.Lock()
	pa, ok := s.accounts[token]
	s.mu.Unlock()
	if !ok || time.Now().After(pa.expires) {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid token")
	}

	fields := pa.fields.Clone()
	switch {
	case str(body, "emailCode") != "" && str(body, "emailCode") == pa.code:
		fields["emailValidated"] = true
	case str(body, "mobileCode") != "" && str(body, "mobileCode") == pa.code:
		fields["mobileValidated"] = true
	default:
		return fiber.NewError(fiber.StatusBadRequest, "Invalid code")
	}
	fields["roles"] = []any{"user"}

	user, err := s.records.Insert(c.UserContext(), "user", fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.accounts, token)
	s.mu.Unlock()
	return c.JSON(public(user))
}

func (s *Server) resendCode(c *fiber.Ctx) error {
	body, err := bodyMap(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pa, ok := s.accounts[str(body, "token")]
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid token")
	}
	method := str(body, "method")
	if method != "email" && method != "mobile" {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid method")
	}
	pa.resent++
	return c.JSON(fiber.Map{"success": true})
}
