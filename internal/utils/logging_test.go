package utils

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupZerologJSON(t *testing.T) {
	defer SetupZerolog("info", LogFormatConsole)

	var buf bytes.Buffer
	SetupZerologTo(&buf, "warn", LogFormatJSON)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("hidden")
	log.Warn().Str("call_uuid", "abc").Msg("visible")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "visible", entry["message"])
	assert.Equal(t, "abc", entry["call_uuid"])
	assert.Equal(t, "warn", entry["level"])
}

func TestSetupZerologConsoleDefaults(t *testing.T) {
	defer SetupZerolog("info", LogFormatConsole)

	var buf bytes.Buffer
	SetupZerologTo(&buf, "nonsense", "")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	ErrLog(errors.New("boom"), "doing stuff")
	assert.Contains(t, buf.String(), "doing stuff")
	assert.Contains(t, buf.String(), "boom")

	buf.Reset()
	Dbg(errors.New("quiet"))
	ErrLog(nil, "nothing")
	assert.Empty(t, buf.String())
}
