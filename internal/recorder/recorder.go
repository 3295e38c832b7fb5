// Package recorder captures the requests sent by a client and turns them
// into replayable test scenarios. Ids answered by the API become capture
// variables and later occurrences in urls and bodies are replaced by
// {{ capture_N }}.
package recorder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"swissdata/internal/api"
)

type ExpectType string

const (
	ExpectExact    ExpectType = "exact"
	ExpectCaptured ExpectType = "captured"
	ExpectHas      ExpectType = "has"
	ExpectIgnore   ExpectType = "ignore"
)

// ExpectProperty is one assertion on a response property. Values are
// rendered as JSON literals.
type ExpectProperty struct {
	Key           string     `yaml:"key"`
	Prop          string     `yaml:"prop"`
	OriginalValue string     `yaml:"originalValue,omitempty"`
	ExpectedValue string     `yaml:"expectedValue,omitempty"`
	CapturedValue string     `yaml:"capturedValue,omitempty"`
	Type          ExpectType `yaml:"type"`
}

// Capture stores the value at Path of a response under Var.
type Capture struct {
	Path string `yaml:"path"`
	Var  string `yaml:"var"`
}

type Response struct {
	StatusCode int               `yaml:"statusCode"`
	StatusText string            `yaml:"statusText"`
	Type       string            `yaml:"type,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Data       any               `yaml:"data,omitempty"`
}

type Request struct {
	RawURL           string
	TestURL          string
	Method           string
	RawHeaders       map[string]string
	TestHeaders      map[string]string
	RawBody          any
	TestBody         any
	Response         Response
	Captures         []Capture
	Keep             bool
	ExpectStatusCode bool
	ExpectProperties []ExpectProperty
	// MaxCaptureIndex is the index of the last variable captured before
	// the request was sent, -1 when none.
	MaxCaptureIndex  int
}

type Option func(*Recorder)

// WithHost strips host from recorded urls.
func WithHost(host string) Option {
	return func(r *Recorder) { r.host = strings.TrimSuffix(host, "/") }
}

// WithKeepRequest decides whether a request goes into the export.
func WithKeepRequest(fn func(*Request) bool) Option {
	return func(r *Recorder) { r.keepRequest = fn }
}

// WithExpectProperty lets the caller adjust every generated expectation.
func WithExpectProperty(fn func(*ExpectProperty)) Option {
	return func(r *Recorder) { r.expectProperty = fn }
}

// WithHeader maps a request header to its test value. Returning false
// drops the header.
func WithHeader(fn func(name, value string) (string, bool)) Option {
	return func(r *Recorder) { r.header = fn }
}

type Recorder struct {
	host           string
	keepRequest    func(*Request) bool
	expectProperty func(*ExpectProperty)
	header         func(name, value string) (string, bool)
	log            *log.Entry

	mu        sync.Mutex
	recording bool
	requests  []*Request
	vars      []string // capture_N holds vars[N]
	varByID   map[string]string
}

func New(opts ...Option) *Recorder {
	r := &Recorder{
		keepRequest:    func(*Request) bool { return true },
		expectProperty: func(*ExpectProperty) {},
		header:         func(_, value string) (string, bool) { return value, true },
		varByID:        make(map[string]string),
		log:            log.WithField("component", "recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Start() { r.setRecording(true) }
func (r *Recorder) Stop()  { r.setRecording(false) }

func (r *Recorder) Toggle() {
	r.mu.Lock()
	r.recording = !r.recording
	r.mu.Unlock()
}

func (r *Recorder) setRecording(on bool) {
	r.mu.Lock()
	r.recording = on
	r.mu.Unlock()
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Requests returns the recorded requests in order.
func (r *Recorder) Requests() []*Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Request(nil), r.requests...)
}

// Vars returns the captured ids by variable name.
func (r *Recorder) Vars() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.vars))
	for i, id := range r.vars {
		out[varName(i)] = id
	}
	return out
}

func varName(i int) string { return "capture_" + strconv.Itoa(i) }

// Middleware records every exchange while recording. Request and response
// bodies stay readable downstream.
func (r *Recorder) Middleware() api.Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return api.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if !r.Recording() {
				return next.RoundTrip(req)
			}
			r.mu.Lock()
			maxCapture := len(r.vars) - 1
			r.mu.Unlock()

			var body any
			if (req.Method == http.MethodPost || req.Method == http.MethodPut) && req.Body != nil && isJSON(req.Header.Get("Content-Type")) {
				raw, err := io.ReadAll(req.Body)
				req.Body.Close()
				if err != nil {
					return nil, fmt.Errorf("record request body: %w", err)
				}
				req.Body = io.NopCloser(bytes.NewReader(raw))
				_ = json.Unmarshal(raw, &body)
			}

			resp, err := next.RoundTrip(req)
			if err != nil {
				return resp, err
			}
			rec, err := r.record(req, body, resp, maxCapture)
			if err != nil {
				resp.Body.Close()
				return nil, err
			}
			r.mu.Lock()
			r.requests = append(r.requests, rec)
			r.mu.Unlock()
			r.log.WithFields(log.Fields{"method": rec.Method, "url": rec.TestURL}).Debug("request recorded")
			return resp, nil
		})
	}
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}

func (r *Recorder) record(req *http.Request, body any, resp *http.Response, maxCapture int) (*Request, error) {
	rec := &Request{
		RawURL:           req.URL.String(),
		Method:           req.Method,
		RawHeaders:       flatten(req.Header),
		TestHeaders:      map[string]string{},
		RawBody:          body,
		MaxCaptureIndex:  maxCapture,
		Keep:             true,
		ExpectStatusCode: true,
		Response: Response{
			StatusCode: resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Headers:    flatten(resp.Header),
		},
	}
	rec.TestURL = strings.Replace(rec.RawURL, r.host, "", 1)

	var testBody string
	if body != nil {
		raw, _ := json.Marshal(body)
		testBody = string(raw)
	}

	r.mu.Lock()
	for i, id := range r.vars {
		ref := "{{ " + varName(i) + " }}"
		rec.TestURL = strings.ReplaceAll(rec.TestURL, id, ref)
		testBody = strings.ReplaceAll(testBody, id, ref)
	}
	r.mu.Unlock()
	if testBody != "" {
		if err := json.Unmarshal([]byte(testBody), &rec.TestBody); err != nil {
			return nil, fmt.Errorf("record request body: %w", err)
		}
	}

	if resp.StatusCode != http.StatusCreated && isJSON(resp.Header.Get("Content-Type")) {
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("record response body: %w", err)
		}
		if json.Unmarshal(raw, &rec.Response.Data) == nil && rec.Response.Data != nil {
			r.capture(rec)
		}
	}

	for _, name := range sortedKeys(rec.RawHeaders) {
		if v, ok := r.header(name, rec.RawHeaders[name]); ok {
			rec.TestHeaders[name] = v
		}
	}
	r.expect(rec)
	rec.Keep = r.keepRequest(rec)
	return rec, nil
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// capture registers the new ids of the response as variables.
func (r *Recorder) capture(rec *Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.Captures = append(rec.Captures, Capture{Path: "$", Var: "response"})
	switch data := rec.Response.Data.(type) {
	case []any:
		rec.Response.Type = "array"
		for i, item := range data {
			obj, _ := item.(map[string]any)
			if id, _ := obj["id"].(string); id != "" {
				if name, ok := r.newVar(id); ok {
					rec.Captures = append(rec.Captures, Capture{Path: "$." + strconv.Itoa(i) + ".id", Var: name})
				}
			}
		}
	case map[string]any:
		rec.Response.Type = "object"
		if id, _ := data["id"].(string); id != "" {
			if name, ok := r.newVar(id); ok {
				rec.Captures = append(rec.Captures, Capture{Path: "$.id", Var: name})
			}
		}
		if token, _ := data["token"].(string); token != "" {
			rec.Captures = append(rec.Captures, Capture{Path: "$.token", Var: "token"})
		}
	}
}

func (r *Recorder) newVar(id string) (string, bool) {
	if _, known := r.varByID[id]; known {
		return "", false
	}
	name := varName(len(r.vars))
	r.vars = append(r.vars, id)
	r.varByID[id] = name
	return name, true
}

func (r *Recorder) expect(rec *Request) {
	switch data := rec.Response.Data.(type) {
	case []any:
		e := ExpectProperty{
			Key:           "length",
			Prop:          "{{ response.length }}",
			OriginalValue: strconv.Itoa(len(data)),
			ExpectedValue: strconv.Itoa(len(data)),
			Type:          ExpectExact,
		}
		r.expectProperty(&e)
		rec.ExpectProperties = append(rec.ExpectProperties, e)
	case map[string]any:
		for _, key := range sortedKeys(data) {
			e := ExpectProperty{Key: key, Prop: "{{ response." + key + " }}", Type: ExpectExact}
			switch v := data[key].(type) {
			case string:
				e.OriginalValue = strconv.Quote(v)
				e.ExpectedValue = e.OriginalValue
				if name := r.earlierVar(rec, v); name != "" {
					e.CapturedValue = `"{{ ` + name + ` }}"`
					e.Type = ExpectCaptured
				}
			case float64:
				e.OriginalValue = strconv.FormatFloat(v, 'f', -1, 64)
				e.ExpectedValue = e.OriginalValue
			default:
				e.Type = ExpectHas
			}
			r.expectProperty(&e)
			rec.ExpectProperties = append(rec.ExpectProperties, e)
		}
	}
}

// earlierVar returns the variable holding id when it was captured before
// rec was sent.
func (r *Recorder) earlierVar(rec *Request, id string) string {
	r.mu.Lock()
	name, ok := r.varByID[id]
	r.mu.Unlock()
	if !ok {
		return ""
	}
	for _, c := range rec.Captures {
		if c.Var == name {
			return ""
		}
	}
	n, _ := strconv.Atoi(strings.TrimPrefix(name, "capture_"))
	if n > rec.MaxCaptureIndex {
		return ""
	}
	return name
}

// Reset drops the recorded requests and variables.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = nil
	r.vars = nil
	r.varByID = make(map[string]string)
}
