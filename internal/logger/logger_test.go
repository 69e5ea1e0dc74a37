package logger

import (
	"bytes"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"

	"github.com/scan-io-git/vulnimpact/internal/config"
)

func TestResolveLevel(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		cfg       *config.Config
		want      hclog.Level
		wantKnown bool
	}{
		{name: "nothing set", cfg: nil, want: hclog.Info, wantKnown: true},
		{name: "config level", cfg: &config.Config{Logger: config.Logger{Level: "debug"}}, want: hclog.Debug, wantKnown: true},
		{name: "upper case", cfg: &config.Config{Logger: config.Logger{Level: "WARN"}}, want: hclog.Warn, wantKnown: true},
		{name: "unknown level", cfg: &config.Config{Logger: config.Logger{Level: "verbose"}}, want: hclog.Info, wantKnown: false},
		{name: "environment wins", env: "error", cfg: &config.Config{Logger: config.Logger{Level: "debug"}}, want: hclog.Error, wantKnown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(config.EnvLogLevel, tt.env)
			got, _, known := resolveLevel(tt.cfg)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantKnown, known)
		})
	}
}

func TestNewLoggerName(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "")
	l := NewLogger(&config.Config{Logger: config.Logger{Level: "warn"}}, "orchestrator")

	assert.Equal(t, "orchestrator", l.Name())
	assert.True(t, l.IsWarn())
	assert.False(t, l.IsInfo())
}

func TestNewLoggerWarnsOnUnknownLevel(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "")
	var buf bytes.Buffer
	l := newLogger(&config.Config{Logger: config.Logger{Level: "loud"}}, "core", &buf)

	assert.True(t, l.IsInfo())
	assert.Contains(t, buf.String(), "unrecognized log level")
	assert.Contains(t, buf.String(), "level=loud")
}
