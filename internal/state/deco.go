package state

import (
	"slices"

	"golang.org/x/text/language"
)

func InitDecoState(s AppState) AppState {
	d := &s.Deco
	if d.StateVersion == "" {
		d.StateVersion = StateVersion
	}
	if d.Country == "" {
		d.Country = "CH"
	}
	if len(d.Countries) == 0 {
		d.Countries = []string{"CH"}
	}
	if d.Language == "" {
		d.Language = "fr"
	}
	if len(d.Languages) == 0 {
		d.Languages = []string{"fr"}
	}
	return s
}

// ClearDecoState forces the locale back to the defaults.
func ClearDecoState(s AppState) AppState {
	s.Deco = DecoState{
		StateVersion: StateVersion,
		Language:     "fr",
		Languages:    []string{"fr"},
		Country:      "CH",
		Countries:    []string{"CH"},
	}
	return s
}

func SetStateVersion(version string) Action {
	return func(s AppState) AppState {
		s.Deco.StateVersion = version
		return s
	}
}

// SetLanguage sets the current language; an empty language unsets it.
func SetLanguage(lang string) Action {
	return func(s AppState) AppState {
		s.Deco.Language = lang
		return s
	}
}

func SetLanguages(langs []string) Action {
	return func(s AppState) AppState {
		s.Deco.Languages = slices.Clone(langs)
		return s
	}
}

func SetRefLanguage(lang string) Action {
	return func(s AppState) AppState {
		s.Deco.RefLanguage = lang
		return s
	}
}

// SetCountryCode stores the ISO alpha-2 code of country, given as alpha-2
// or alpha-3. An unknown code unsets the country.
func SetCountryCode(country string) Action {
	return func(s AppState) AppState {
		s.Deco.Country = CountryCode(country)
		return s
	}
}

func SetCountry(country string) Action { return SetCountryCode(country) }

func SetCountries(countries []string) Action {
	return func(s AppState) AppState {
		s.Deco.Countries = slices.Clone(countries)
		return s
	}
}

// CountryCode normalizes an alpha-2 or alpha-3 country code to alpha-2.
// It returns "" when code is not a country.
func CountryCode(code string) string {
	if len(code) != 2 && len(code) != 3 {
		return ""
	}
	region, err := language.ParseRegion(code)
	if err != nil || !region.IsCountry() {
		return ""
	}
	return region.String()
}
