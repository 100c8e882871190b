package version

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/envelope"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, GitCommit, info.GitCommit)
	assert.Equal(t, BuildTime, info.BuildTime)
	assert.True(t, strings.HasPrefix(info.GoVersion, "go"))
	assert.Equal(t, envelope.CurrentVersion, info.Envelope)
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "0.3.0",
		GitCommit: "abc123",
		BuildTime: "2025-06-01T00:00:00Z",
		GoVersion: "go1.25.1",
		Envelope:  "1.2.0",
	}

	assert.Equal(t, "Version: 0.3.0, GitCommit: abc123, BuildTime: 2025-06-01T00:00:00Z, GoVersion: go1.25.1, Envelope: 1.2.0", info.String())
}

func TestInfoJSON(t *testing.T) {
	info := Info{Version: "0.3.0", GitCommit: "abc123", Envelope: "1.2.0"}

	out, err := info.JSON()
	require.NoError(t, err)

	var decoded Info
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, info, decoded)
	assert.Contains(t, out, `"gitCommit": "abc123"`)
}
