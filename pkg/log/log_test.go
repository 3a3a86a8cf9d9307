package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChildLoggersChainDirectly(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithComponent("dispatch").Info().Msg("started")
	WithMinion("minion-abc12345").Warn().Msg("slow heartbeat")
	WithIssue("acme/api", 42).Debug().Msg("queued")

	out := buf.String()
	assert.Contains(t, out, `"component":"dispatch"`)
	assert.Contains(t, out, `"minion_id":"minion-abc12345"`)
	assert.Contains(t, out, `"repo":"acme/api"`)
	assert.Contains(t, out, `"issue":42`)
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	WithComponent("quiet").Info().Msg("suppressed")
	WithComponent("quiet").Error().Msg("kept")

	out := buf.String()
	assert.NotContains(t, out, "suppressed")
	assert.Contains(t, out, "kept")
}
