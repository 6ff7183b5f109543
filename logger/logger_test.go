package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		"info":     zerolog.InfoLevel,
		"":         zerolog.InfoLevel,
		"warn":     zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetup_JSONOutput(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	require.NoError(t, Setup("info", false, &buf))

	log.Debug().Msg("hidden")
	log.Info().Int("regions", 3).Msg("regions loaded")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "regions loaded", entry["message"])
	assert.Equal(t, float64(3), entry["regions"])
	assert.Equal(t, "info", entry["level"])
}

func TestSetup_Pretty(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	require.NoError(t, Setup("debug", true, &buf))
	log.Debug().Str("source", "parking.mp4").Msg("video source opened")

	out := buf.String()
	assert.Contains(t, out, "video source opened")
	assert.Contains(t, out, "source=")
	assert.NotContains(t, out, "{")
}

func TestSetup_RejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Setup("chatty", false, nil))
}
