package state

import (
	"slices"

	"swissdata/internal/deco"
)

// Reset leaves the login flow, keeping the remembered accounts.
func Reset(s AppState) AppState {
	l := &s.SdLogin
	l.Username = ""
	l.CreateAccountValidationToken = ""
	l.RequireDoubleAuthValidation = false
	l.DoubleAuthValidationToken = ""
	return s
}

func SetUsername(username string) Action {
	return func(s AppState) AppState {
		s.SdLogin.Username = username
		return s
	}
}

// PasswordStep moves to the password prompt for username.
func PasswordStep(username string) Action { return SetUsername(username) }

func ValidateAccountStep(token, expiry string) Action {
	return func(s AppState) AppState {
		s.SdLogin.CreateAccountValidationToken = token
		s.SdLogin.CreateAccountValidationTokenExpiry = expiry
		return s
	}
}

func DoubleAuthStep(token string) Action {
	return func(s AppState) AppState {
		s.SdLogin.DoubleAuthValidationToken = token
		s.SdLogin.RequireDoubleAuthValidation = true
		return s
	}
}

func ResetPasswordStep(token string) Action {
	return func(s AppState) AppState {
		s.SdLogin.ResetPasswordToken = token
		return s
	}
}

func LoginSetAccessToken(token string) Action {
	return func(s AppState) AppState {
		s.Swissdata.AccessToken = token
		return s
	}
}

// LoginAuthenticate signs user in from the login flow. An empty token or a
// nil profile keeps the current value.
func LoginAuthenticate(user *User, token string, profile *deco.Instance) Action {
	return func(s AppState) AppState {
		s.Swissdata.Authenticated = true
		s.Swissdata.User = user.clone()
		s.Swissdata.RequireDoubleAuthValidation = false
		s.SdLogin.DoubleAuthValidationToken = ""
		if token != "" {
			s.Swissdata.AccessToken = token
		}
		if profile != nil {
			s.Swissdata.Profile = profile
		}
		return s
	}
}

func SetCurrentProfile(profile *deco.Instance) Action { return SetProfile(profile) }

func LoginLogout(s AppState) AppState {
	s.Swissdata.Authenticated = false
	s.Swissdata.User = nil
	s.Swissdata.AccessToken = ""
	s.Swissdata.Profile = nil
	s.Swissdata.RequireDoubleAuthValidation = false
	s.SdLogin.DoubleAuthValidationToken = ""
	return s
}

// RegisterUserID remembers an account, moving it first when known.
func RegisterUserID(username, firstname, lastname, userID, profileURL string) Action {
	return func(s AppState) AppState {
		accounts := slices.DeleteFunc(slices.Clone(s.SdLogin.Accounts), func(a Account) bool { return a.Username == username })
		s.SdLogin.Accounts = slices.Insert(accounts, 0, Account{
			Firstname:  firstname,
			Lastname:   lastname,
			Username:   username,
			UserID:     userID,
			ProfileURL: profileURL,
		})
		return s
	}
}

// UpdateRegisteredUserID refreshes the names of a remembered account.
//
// It returns early as soon as the account list exists, so it never
// changes anything. Use RegisterUserID to refresh an account.
func UpdateRegisteredUserID(username, firstname, lastname string) Action {
	return func(s AppState) AppState {
		if s.SdLogin.Accounts != nil {
			return s
		}
		accounts := slices.Clone(s.SdLogin.Accounts)
		for i, a := range accounts {
			if a.Username == username {
				accounts[i].Firstname = firstname
				accounts[i].Lastname = lastname
			}
		}
		s.SdLogin.Accounts = accounts
		return s
	}
}

// RegisterCurrentUserID remembers the signed in user under username.
func RegisterCurrentUserID(username string) Action {
	return func(s AppState) AppState {
		user := s.Swissdata.User
		if !s.Swissdata.Authenticated || user == nil || user.ID == "" {
			return s
		}
		var profileURL string
		if p := s.Swissdata.Profile; p != nil && p.ID != "" && p.Get("picture") != nil {
			profileURL = "/profile/" + p.ID + "?download=picture"
		}
		return RegisterUserID(username, user.Firstname, user.Lastname, user.ID, profileURL)(s)
	}
}

func RemoveRegisteredUserID(username string) Action {
	return func(s AppState) AppState {
		s.SdLogin.Accounts = slices.DeleteFunc(slices.Clone(s.SdLogin.Accounts), func(a Account) bool { return a.Username == username })
		return s
	}
}
