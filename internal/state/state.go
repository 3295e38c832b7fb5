// Package state holds the application state shared by the session and the
// login flow. The state is a value; actions are pure functions returning
// the next state.
package state

import (
	"maps"
	"slices"

	"swissdata/internal/deco"
)

const StateVersion = "1.0"

// Step is the current screen of the login flow.
type Step string

const (
	StepLogin           Step = "login"
	StepDoubleAuth      Step = "double-auth"
	StepCreateAccount   Step = "create-account"
	StepValidateAccount Step = "validate-account"
	StepAccountCreated  Step = "account-created"
	StepForgotPassword  Step = "forgot-password"
	StepResetPassword   Step = "reset-password"
)

// Online reports the last known API reachability.
type Online int

const (
	OnlineUnknown Online = iota
	OnlineYes
	OnlineNo
)

func (o Online) String() string {
	switch o {
	case OnlineYes:
		return "online"
	case OnlineNo:
		return "offline"
	}
	return "unknown"
}

// User is the authenticated user as answered by /user/current.
type User struct {
	ID                string   `json:"id"`
	Firstname         string   `json:"firstname"`
	Lastname          string   `json:"lastname"`
	Email             string   `json:"email,omitempty"`
	Mobile            string   `json:"mobile,omitempty"`
	EmailValidated    bool     `json:"emailValidated,omitempty"`
	MobileValidated   bool     `json:"mobileValidated,omitempty"`
	RequireDoubleAuth bool     `json:"requireDoubleAuth,omitempty"`
	HideOnboarding    bool     `json:"hideOnboarding,omitempty"`
	Roles             []string `json:"roles,omitempty"`
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	return &c
}

type DecoState struct {
	StateVersion string
	Language     string
	Languages    []string
	RefLanguage  string
	Country      string
	Countries    []string
}

type SwissdataState struct {
	PublicKey                    string
	Online                       Online
	Authenticated                bool
	LoginStep                    Step
	CreateAccountValidationToken string
	ResetPasswordToken           string
	RequireDoubleAuthValidation  bool
	DoubleAuthValidationToken    string
	User                         *User
	Profile                      *deco.Instance
	AccessToken                  string
	RefreshToken                 string
	// H is the API host, base64 encoded.
	H string
}

// Account is a user remembered on this device for quick login.
type Account struct {
	Firstname  string `json:"firstname"`
	Lastname   string `json:"lastname"`
	Username   string `json:"username"`
	UserID     string `json:"userId"`
	ProfileURL string `json:"profileUrl,omitempty"`
}

type SdLoginState struct {
	Username                           string
	CreateAccountValidationToken       string
	CreateAccountValidationTokenExpiry string
	ResetPasswordToken                 string
	RequireDoubleAuthValidation        bool
	DoubleAuthValidationToken          string
	Accounts                           []Account
}

type CurrentRoute struct {
	Name   string
	Params map[string]string
}

type AppState struct {
	Deco         DecoState
	Swissdata    SwissdataState
	SdLogin      SdLoginState
	CurrentRoute CurrentRoute
}

// Clone returns a copy sharing nothing mutable with s, except the profile
// instance.
func (s AppState) Clone() AppState {
	c := s
	c.Deco.Languages = slices.Clone(s.Deco.Languages)
	c.Deco.Countries = slices.Clone(s.Deco.Countries)
	c.Swissdata.User = s.Swissdata.User.clone()
	c.SdLogin.Accounts = slices.Clone(s.SdLogin.Accounts)
	c.CurrentRoute.Params = maps.Clone(s.CurrentRoute.Params)
	return c
}

// Action computes the next state. Actions receive a clone and may modify
// it freely.
type Action func(AppState) AppState

// Initial returns the state every store starts from.
func Initial() AppState {
	return InitSwissdataState(InitDecoState(AppState{}))
}
