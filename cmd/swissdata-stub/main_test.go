package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_Errors(t *testing.T) {
	tests := map[string]struct {
		args []string
		want string
	}{
		"bad flag":       {[]string{"--port", "x"}, "invalid argument"},
		"unknown flag":   {[]string{"--verbose"}, "unknown flag"},
		"unknown driver": {[]string{"--db", "oracle", "--log-level", "error"}, `open store: unknown store driver "oracle"`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := run(context.Background(), tt.args)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
