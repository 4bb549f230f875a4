package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "console format", mutate: func(c *Config) { c.Format = "console" }},
		{name: "unknown format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: "format must be"},
		{name: "empty field value", mutate: func(c *Config) { c.Fields["env"] = "" }, wantErr: "empty value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))

	_, err = NewLogger(&Config{Format: "yaml"})
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	logger := NewTestLogger()

	ctx := WithGenerationID(context.Background(), "gen-1")
	ctx = WithProjectID(ctx, "proj-1")
	logger.Info(ctx, "generation started", zap.Int("iteration", 0))

	entries := logger.FilterMessage("generation started").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "gen-1", fields["generation.id"])
	assert.Equal(t, "proj-1", fields["project.id"])
	assert.Equal(t, int64(0), fields["iteration"])

	logger.AssertLogged(t, zapcore.InfoLevel, "started")
	logger.AssertNotLogged(t, zapcore.ErrorLevel, "started")
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	logger := NewTestLogger()
	ctx := WithLogger(context.Background(), logger.Logger)
	assert.Same(t, logger.Logger, FromContext(ctx))
}
