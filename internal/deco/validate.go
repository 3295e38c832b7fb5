package deco

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	log "github.com/sirupsen/logrus"
)

const (
	RuleRequired   = "required"
	RuleEmail      = "email"
	RuleMinLength  = "minLength"
	RuleMaxLength  = "maxLength"
	RuleSlug       = "slug"
	RulePhone      = "internationalPhoneNumber"
	RuleExpression = "expression"
)

var (
	emailPattern = regexp.MustCompile(`^(([^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*)|(".+"))@((\[[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}])|(([a-zA-Z\-0-9]+\.)+[a-zA-Z]{2,}))$`)
	slugPattern  = regexp.MustCompile(`^[A-Za-z0-9]+(?:-[A-Za-z0-9]+)*$`)
	nonDigit     = regexp.MustCompile(`[^0-9]`)
)

// Validation is one declarative rule attached to a field.
type Validation struct {
	Type    string  `json:"type"`
	Options Options `json:"options,omitempty"`
}

// RuleInput is what a rule sees of the field under validation.
type RuleInput struct {
	Field    string
	Value    any
	Instance *Instance
	Options  Options
}

// RuleFunc reports whether the input satisfies the rule. An error aborts
// the whole validation run.
type RuleFunc func(ctx context.Context, in RuleInput) (bool, error)

type RuleResult struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

type ValidationResult struct {
	Valid   bool         `json:"valid"`
	Results []RuleResult `json:"results"`
}

// Failed returns the failing results.
func (r *ValidationResult) Failed() []RuleResult {
	var out []RuleResult
	for _, res := range r.Results {
		if !res.Valid {
			out = append(out, res)
		}
	}
	return out
}

// FieldErrors returns the messages of the failing rules of one field.
func (r *ValidationResult) FieldErrors(field string) []string {
	var out []string
	for _, res := range r.Results {
		if !res.Valid && res.Field == field {
			out = append(out, res.Message)
		}
	}
	return out
}

// Validator runs type predicates and declarative rules over instances.
type Validator struct {
	mu       sync.RWMutex
	rules    map[string]RuleFunc
	messages map[string]string
	programs sync.Map // expression source -> *vm.Program
	log      *log.Entry
}

func NewValidator() *Validator {
	v := &Validator{
		rules:    make(map[string]RuleFunc),
		messages: make(map[string]string),
		log:      log.WithField("component", "deco-validate"),
	}
	v.Register(RuleRequired, "%s is required.", ruleRequired)
	v.Register(RuleEmail, "%s is not a valid email.", ruleEmail)
	v.Register(RuleMinLength, "%s is too short.", ruleMinLength)
	v.Register(RuleMaxLength, "%s is too long.", ruleMaxLength)
	v.Register(RuleSlug, "%s is not correctly formatted.", ruleSlug)
	v.Register(RulePhone, "%s is not a valid phone number.", rulePhone)
	v.Register(RuleExpression, "%s is invalid.", v.ruleExpression)
	return v
}

// Register adds a named rule. message is a format with one %s for the
// field label; an empty message falls back to "%s is invalid.".
func (v *Validator) Register(name, message string, fn RuleFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[name] = fn
	if message == "" {
		message = "%s is invalid."
	}
	v.messages[name] = message
}

func (v *Validator) rule(name string) (RuleFunc, string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	fn, ok := v.rules[name]
	return fn, v.messages[name], ok
}

// Validate checks every declared field of inst: first its type predicate,
// then its declared rules in order.
func (v *Validator) Validate(ctx context.Context, inst *Instance) (*ValidationResult, error) {
	d, err := inst.Descriptor()
	if err != nil {
		return nil, err
	}
	result := &ValidationResult{Valid: true}
	add := func(field, rule string, ok bool, message string) {
		res := RuleResult{Field: field, Rule: rule, Valid: ok}
		if !ok {
			res.Message = message
			result.Valid = false
		}
		result.Results = append(result.Results, res)
	}

	for _, f := range d.fields {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		value := inst.Get(f.Name)

		ok, err := f.Handler.Validate(ctx, value, inst, f.Options)
		if err != nil {
			return nil, fmt.Errorf("validate %s: %w", f.Name, err)
		}
		add(f.Name, "type:"+f.Handler.Name(), ok, fmt.Sprintf("The %s property is not valid (%s).", f.Label(), f.Handler.Name()))

		for _, val := range f.Validations {
			fn, message, found := v.rule(val.Type)
			if !found {
				v.log.WithField("rule", val.Type).Warn("unknown validation rule, skipped")
				continue
			}
			ok, err := fn(ctx, RuleInput{Field: f.Name, Value: value, Instance: inst, Options: val.Options})
			if err != nil {
				return nil, fmt.Errorf("validate %s (%s): %w", f.Name, val.Type, err)
			}
			add(f.Name, val.Type, ok, fmt.Sprintf(message, f.Label()))
		}
	}
	return result, nil
}

// blank reports values the optional rules skip.
func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func ruleRequired(_ context.Context, in RuleInput) (bool, error) {
	switch v := in.Value.(type) {
	case nil:
		return false, nil
	case string:
		return strings.TrimSpace(v) != "", nil
	}
	return true, nil
}

func ruleEmail(_ context.Context, in RuleInput) (bool, error) {
	if blank(in.Value) {
		return true, nil
	}
	s, ok := in.Value.(string)
	return ok && emailPattern.MatchString(s), nil
}

func length(v any) (int, bool) {
	if s, ok := v.(string); ok {
		return utf8.RuneCountInString(s), true
	}
	if items, ok := asSlice(v); ok {
		return len(items), true
	}
	return 0, false
}

func ruleMinLength(_ context.Context, in RuleInput) (bool, error) {
	if blank(in.Value) {
		return true, nil
	}
	n, ok := length(in.Value)
	if !ok || n == 0 {
		return true, nil
	}
	minLen, _ := in.Options.Int("minLength")
	return n >= minLen, nil
}

func ruleMaxLength(_ context.Context, in RuleInput) (bool, error) {
	if blank(in.Value) {
		return true, nil
	}
	n, ok := length(in.Value)
	if !ok || n == 0 {
		return true, nil
	}
	maxLen, _ := in.Options.Int("maxLength")
	return n <= maxLen, nil
}

func ruleSlug(_ context.Context, in RuleInput) (bool, error) {
	if blank(in.Value) {
		return true, nil
	}
	s, ok := in.Value.(string)
	return ok && slugPattern.MatchString(s), nil
}

func rulePhone(_ context.Context, in RuleInput) (bool, error) {
	if blank(in.Value) {
		return true, nil
	}
	s, ok := in.Value.(string)
	if !ok {
		return false, nil
	}
	_, valid := NormalizePhoneNumber(s)
	return valid, nil
}

// NormalizePhoneNumber returns the E.164 form of a Swiss number written
// with a leading "+41", dropping separators and a national leading 0.
func NormalizePhoneNumber(phone string) (string, bool) {
	if !strings.HasPrefix(phone, "+") {
		return "", false
	}
	digits := nonDigit.ReplaceAllString(phone[1:], "")
	if !strings.HasPrefix(digits, "41") {
		return "", false
	}
	national := strings.TrimPrefix(digits[2:], "0")
	if len(national) != 9 {
		return "", false
	}
	return "+41" + national, true
}

// ruleExpression holds when the expression evaluates to true. The
// environment exposes value, field and record.
func (v *Validator) ruleExpression(_ context.Context, in RuleInput) (bool, error) {
	src := in.Options.String("expression")
	if src == "" {
		return true, nil
	}
	prog, err := v.program(src)
	if err != nil {
		return false, err
	}
	env := map[string]any{
		"value":  in.Value,
		"field":  in.Field,
		"record": in.Instance.Unclass(),
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return false, nil
	}
	ok, _ := out.(bool)
	return ok, nil
}

func (v *Validator) program(src string) (*vm.Program, error) {
	if p, ok := v.programs.Load(src); ok {
		return p.(*vm.Program), nil
	}
	prog, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	v.programs.Store(src, prog)
	return prog, nil
}
