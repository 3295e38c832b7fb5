package state

import (
	"encoding/base64"
	"maps"

	"swissdata/internal/deco"
)

func InitSwissdataState(s AppState) AppState {
	if s.Swissdata.LoginStep == "" {
		s.Swissdata.LoginStep = StepLogin
	}
	return s
}

func ClearSwissdataState(s AppState) AppState {
	s.Swissdata = SwissdataState{LoginStep: StepLogin}
	return s
}

// SetAPIHost stores host base64 encoded.
func SetAPIHost(host string) Action {
	return func(s AppState) AppState {
		s.Swissdata.H = base64.StdEncoding.EncodeToString([]byte(host))
		return s
	}
}

// APIHost decodes the host stored by SetAPIHost.
func (s SwissdataState) APIHost() string {
	b, err := base64.StdEncoding.DecodeString(s.H)
	if err != nil {
		return ""
	}
	return string(b)
}

func SetPublicKey(key string) Action {
	return func(s AppState) AppState {
		s.Swissdata.PublicKey = key
		return s
	}
}

func SetAccessToken(token string) Action {
	return func(s AppState) AppState {
		s.Swissdata.AccessToken = token
		s.Swissdata.RequireDoubleAuthValidation = false
		return s
	}
}

func SetDoubleAuthValidationToken(token string) Action {
	return func(s AppState) AppState {
		s.Swissdata.DoubleAuthValidationToken = token
		s.Swissdata.RequireDoubleAuthValidation = true
		return s
	}
}

// Authenticate marks user as signed in. An empty token keeps the current
// access token and a nil profile keeps the current profile.
func Authenticate(user *User, token string, profile *deco.Instance) Action {
	return func(s AppState) AppState {
		sd := &s.Swissdata
		sd.Authenticated = true
		sd.User = user.clone()
		sd.LoginStep = StepLogin
		sd.RequireDoubleAuthValidation = false
		sd.DoubleAuthValidationToken = ""
		if token != "" {
			sd.AccessToken = token
		}
		if profile != nil {
			sd.Profile = profile
		}
		return s
	}
}

func WaitForDoubleAuth(token string) Action {
	return func(s AppState) AppState {
		sd := &s.Swissdata
		sd.Authenticated = false
		sd.LoginStep = StepDoubleAuth
		sd.RequireDoubleAuthValidation = true
		sd.DoubleAuthValidationToken = token
		sd.AccessToken = ""
		return s
	}
}

func Logout(s AppState) AppState {
	sd := &s.Swissdata
	sd.Authenticated = false
	sd.User = nil
	sd.AccessToken = ""
	sd.Profile = nil
	sd.RequireDoubleAuthValidation = false
	sd.DoubleAuthValidationToken = ""
	sd.LoginStep = StepLogin
	return s
}

func SetLoginStep(step Step) Action {
	return func(s AppState) AppState {
		s.Swissdata.LoginStep = step
		return s
	}
}

func SetOnline(online bool) Action {
	return func(s AppState) AppState {
		s.Swissdata.Online = OnlineNo
		if online {
			s.Swissdata.Online = OnlineYes
		}
		return s
	}
}

func SetProfile(profile *deco.Instance) Action {
	return func(s AppState) AppState {
		s.Swissdata.Profile = profile
		return s
	}
}

func ClearProfile(s AppState) AppState {
	s.Swissdata.Profile = nil
	return s
}

func SetCurrentRoute(name string, params map[string]string) Action {
	return func(s AppState) AppState {
		s.CurrentRoute = CurrentRoute{Name: name, Params: maps.Clone(params)}
		return s
	}
}
