package recorder

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Scenario is the exported form of a recording.
type Scenario struct {
	Name  string `yaml:"name,omitempty"`
	Steps []Step `yaml:"steps"`
}

type Step struct {
	Method   string            `yaml:"method"`
	URL      string            `yaml:"url"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Body     any               `yaml:"body,omitempty"`
	Status   int               `yaml:"status,omitempty"`
	Captures []Capture         `yaml:"captures,omitempty"`
	Expect   []ExpectProperty  `yaml:"expect,omitempty"`
}

// Scenario converts the kept requests into steps. Expectations of type
// ignore are left out.
func (r *Recorder) Scenario(name string) Scenario {
	sc := Scenario{Name: name, Steps: []Step{}}
	for _, req := range r.Requests() {
		if !req.Keep {
			continue
		}
		step := Step{
			Method:   req.Method,
			URL:      req.TestURL,
			Headers:  req.TestHeaders,
			Body:     req.TestBody,
			Captures: req.Captures,
		}
		if req.ExpectStatusCode {
			step.Status = req.Response.StatusCode
		}
		for _, e := range req.ExpectProperties {
			if e.Type != ExpectIgnore {
				step.Expect = append(step.Expect, e)
			}
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc
}

// ExportYAML writes the scenario of the kept requests to w.
func (r *Recorder) ExportYAML(w io.Writer, name string) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r.Scenario(name)); err != nil {
		return fmt.Errorf("export scenario: %w", err)
	}
	return enc.Close()
}
