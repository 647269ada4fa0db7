package commands

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantmcdermott/jgd/internal/version"
)

func TestVersionInfoStringIncludesCommitAndBuildTime(t *testing.T) {
	info := version.Get()
	s := info.String()
	assert.Contains(t, s, info.CommitHash)
	assert.Contains(t, s, info.BuildTime)
}

func TestVersionInfoMarshalsToJSON(t *testing.T) {
	info := version.Get()
	out, err := json.MarshalIndent(info, "", "  ")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, info.GoVersion, decoded["go_version"])
	assert.Equal(t, info.Platform, decoded["platform"])
}

func TestVersionCommandHasJSONFlag(t *testing.T) {
	flag := VersionCmd.Flags().Lookup("json")
	require.NotNil(t, flag)
	assert.Equal(t, "j", flag.Shorthand)
}
