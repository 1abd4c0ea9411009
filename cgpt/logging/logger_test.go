package logging

import (
	"bytes"
	"testing"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("chatty"))
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LogConfig{Level: "info", Pretty: false}, &buf)

	Component(logger, "chat").Info().Str("decision", "no-tool").Msg("turn complete")
	logger.Debug().Msg("suppressed")

	out := buf.String()
	assert.Contains(t, out, `"component":"chat"`)
	assert.Contains(t, out, `"decision":"no-tool"`)
	assert.NotContains(t, out, "suppressed")
}
