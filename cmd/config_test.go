package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTopologyConfig_MatchesFabricDefaults(t *testing.T) {
	cfg := DefaultTopologyConfig()
	assert.Equal(t, 8, cfg.NumRouters)
	assert.Equal(t, 2, cfg.NumVCs)
	assert.Equal(t, 8, cfg.BufferCN)
	assert.Equal(t, 8, cfg.BufferLocal)
	assert.Equal(t, 16, cfg.BufferGlobal)
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.cfg")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseTopologyConfigFile_OverridesOnlyNamedKeys(t *testing.T) {
	path := writeConfigFile(t, "num_routers=4\nnum_vcs=3\n# a comment\n\nbuffer_cn=12\n")
	cfg, err := ParseTopologyConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.NumRouters)
	assert.Equal(t, 3, cfg.NumVCs)
	assert.Equal(t, 12, cfg.BufferCN)
	// everything else falls back to the default.
	def := DefaultTopologyConfig()
	assert.Equal(t, def.BufferLocal, cfg.BufferLocal)
	assert.Equal(t, def.ChunkSizeBytes, cfg.ChunkSizeBytes)
	assert.Equal(t, def.MeanNS, cfg.MeanNS)
}

func TestParseTopologyConfigFile_MissingFile(t *testing.T) {
	_, err := ParseTopologyConfigFile(filepath.Join(t.TempDir(), "does-not-exist.cfg"))
	assert.Error(t, err)
}

func TestParseTopologyConfigFile_RejectsMalformedLine(t *testing.T) {
	path := writeConfigFile(t, "num_routers 4\n")
	_, err := ParseTopologyConfigFile(path)
	assert.Error(t, err)
}

func TestParseTopologyConfigFile_RejectsUnrecognizedKey(t *testing.T) {
	path := writeConfigFile(t, "num_routers=4\nbogus_key=1\n")
	_, err := ParseTopologyConfigFile(path)
	assert.ErrorContains(t, err, "unrecognized config key")
}

func TestParseTopologyConfigFile_RejectsBadFloat(t *testing.T) {
	path := writeConfigFile(t, "mean_ns=not-a-number\n")
	_, err := ParseTopologyConfigFile(path)
	assert.Error(t, err)
}

func TestSetConfigField_AllFloatAndIntKeys(t *testing.T) {
	cfg := DefaultTopologyConfig()
	pairs := map[string]string{
		"chunk_size_bytes":   "2048",
		"jitter_noise":       "0.5",
		"credit_delay_bytes": "100",
		"channel_bandwidth":  "12.5",
		"buffer_local":       "4",
		"buffer_global":      "32",
	}
	for key, val := range pairs {
		require.NoError(t, setConfigField(&cfg, key, val))
	}
	assert.Equal(t, int64(2048), cfg.ChunkSizeBytes)
	assert.Equal(t, 0.5, cfg.JitterNoise)
	assert.Equal(t, 100.0, cfg.CreditDelayBytes)
	assert.Equal(t, 12.5, cfg.ChannelBandwidth)
	assert.Equal(t, 4, cfg.BufferLocal)
	assert.Equal(t, 32, cfg.BufferGlobal)
}

func TestTopologyConfig_ParamsDerivesFromNumRoutersAndVCs(t *testing.T) {
	cfg := DefaultTopologyConfig()
	cfg.NumRouters = 4
	cfg.NumVCs = 2
	p, err := cfg.Params()
	require.NoError(t, err)
	assert.Equal(t, 4, p.NumRouters)
	assert.Equal(t, 2, p.NumCN)
}

func TestTopologyConfig_ParamsRejectsOddRouterCount(t *testing.T) {
	cfg := DefaultTopologyConfig()
	cfg.NumRouters = 5
	_, err := cfg.Params()
	assert.Error(t, err)
}

func TestTopologyConfig_FabricConfigCarriesDisableCompute(t *testing.T) {
	cfg := DefaultTopologyConfig()
	fc := cfg.FabricConfig(true)
	assert.True(t, fc.DisableDelay)
	assert.Equal(t, cfg.ChunkSizeBytes, fc.ChunkSize)

	fc2 := cfg.FabricConfig(false)
	assert.False(t, fc2.DisableDelay)
}

func TestTopologyConfig_BufferSizesMatchesOverrides(t *testing.T) {
	cfg := DefaultTopologyConfig()
	cfg.BufferCN, cfg.BufferLocal, cfg.BufferGlobal = 1, 2, 3
	bs := cfg.BufferSizes()
	assert.Equal(t, 1, bs.CN)
	assert.Equal(t, 2, bs.Local)
	assert.Equal(t, 3, bs.Global)
}
