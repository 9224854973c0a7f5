package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"loud":    zerolog.InfoLevel,
	}
	for in, want := range tests {
		require.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewJSONHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Info().Msg("hidden")
	logger.Warn().Str("query_key", "conversation/42/messages").Msg("shown")

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	require.Equal(t, "shown", event["message"])
	require.Equal(t, "warn", event["level"])
	require.Equal(t, "conversation/42/messages", event["query_key"])
}

func TestComponentAndContext(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Init(Config{}); Logger = prev })

	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	logger := WithKey(Component("cache"), "a/b")
	logger.Debug().Msg("x")
	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	require.Equal(t, "cache", event["component"])
	require.Equal(t, "a/b", event["query_key"])

	ctx := WithContext(context.Background(), Component("chat"))
	buf.Reset()
	FromContext(ctx).Info().Msg("y")
	require.Contains(t, buf.String(), `"component":"chat"`)

	buf.Reset()
	FromContext(context.Background()).Info().Msg("z")
	require.Contains(t, buf.String(), `"message":"z"`)
}
