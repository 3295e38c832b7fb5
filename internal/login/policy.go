package login

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// Policy is a password strength requirement.
type Policy string

const (
	PolicyStrong Policy = "strong"
	PolicyMedium Policy = "medium"
	PolicyWeak   Policy = "weak"
)

// Patterns run with ECMAScript semantics: they rely on lookahead, which RE2 lacks.
var policyPatterns = map[Policy]*regexp2.Regexp{
	PolicyStrong: regexp2.MustCompile(`^(?=.*[a-z])(?=.*[A-Z])(?=.*[0-9])(?=.*[!@#$%^&*])(?=.{8,})`, regexp2.ECMAScript),
	PolicyMedium: regexp2.MustCompile(`^(((?=.*[a-z])(?=.*[A-Z]))|((?=.*[a-z])(?=.*[0-9]))|((?=.*[A-Z])(?=.*[0-9])))(?=.{6,})`, regexp2.ECMAScript),
	PolicyWeak:   regexp2.MustCompile(`^(?=.*[a-z])|(?=.*[A-Z])|(?=.*[0-9])|(?=.*[!@#$%^&*])(?=.{8,})`, regexp2.ECMAScript),
}

// ParsePolicy reads a configured strength. An empty value means medium.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case "":
		return PolicyMedium, nil
	case PolicyStrong, PolicyMedium, PolicyWeak:
		return p, nil
	}
	return "", fmt.Errorf("unknown password strength %q", s)
}

// Check reports whether password satisfies the policy.
//
//	strong: lower, upper, digit and one of !@#$%^&*, at least 8 chars
//	medium: two of lower, upper and digit, at least 6 chars
//	weak:   a letter or a digit, or a special char in at least 8 chars
//
// Unknown policies are checked as strong.
func (p Policy) Check(password string) bool {
	re, ok := policyPatterns[p]
	if !ok {
		re = policyPatterns[PolicyStrong]
	}
	ok, err := re.MatchString(password)
	return err == nil && ok
}
