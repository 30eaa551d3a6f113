package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[services]
cache = true
graphsearch = true
graphsearch_rpc = true
grpc = true
utxosync = false
bchd_grpc = true
zmqpub = true

[bitcoind]
host = "10.0.0.5"
port = 18332
user = "rpcuser"
pass = "rpcpass"

[bchd]
host = "10.0.0.6"
port = 18335
root_cert_path = "/etc/gsd/bchd.pem"

[cache]
dir = "/var/lib/gsd/cache"

[graphsearch]
max_exclusion_set_size = 250
private_key = "0000000000000000000000000000000000000000000000000000000000000001"

[grpc]
host = "127.0.0.1"
port = 50051

[utxo]
block_height = 543375
checkpoint_load = "/var/lib/gsd/utxo.in"
checkpoint_save = "/var/lib/gsd/utxo.out"

[zmqpub]
bind = "0.0.0.0:28339"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gs.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestParseReadsEverySection(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Parse([]string{"-c", path})
	require.NoError(t, err)

	assert.True(t, cfg.Services.BchdGrpc)
	assert.True(t, cfg.Services.ZmqPub)
	assert.False(t, cfg.Services.UtxoSync)

	assert.Equal(t, "10.0.0.5", cfg.Bitcoind.Host)
	assert.Equal(t, uint16(18332), cfg.Bitcoind.Port)
	assert.Equal(t, "rpcuser", cfg.Bitcoind.User)

	assert.Equal(t, "/etc/gsd/bchd.pem", cfg.Bchd.RootCertPath)

	assert.Equal(t, "/var/lib/gsd/cache", cfg.Cache.Dir)
	assert.Equal(t, 250, cfg.GraphSearch.MaxExclusionSetSize)
	assert.NotEmpty(t, cfg.GraphSearch.PrivateKey)

	assert.Equal(t, uint16(50051), cfg.Grpc.Port)

	assert.Equal(t, uint32(543375), cfg.Utxo.BlockHeight)
	assert.Equal(t, "/var/lib/gsd/utxo.in", cfg.Utxo.CheckpointLoad)
	assert.Equal(t, "/var/lib/gsd/utxo.out", cfg.Utxo.CheckpointSave)

	assert.Equal(t, "0.0.0.0:28339", cfg.ZmqPub.Bind)
}

func TestParseAppliesDefaultsForOmittedSections(t *testing.T) {
	path := writeConfig(t, "[cache]\ndir = \"cache\"\n")

	cfg, err := Parse([]string{"-c", path})
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.GraphSearch.MaxExclusionSetSize)
	assert.Equal(t, uint16(8339), cfg.Grpc.Port)
	assert.Equal(t, "127.0.0.1", cfg.Bitcoind.Host)
	assert.False(t, cfg.Services.BchdGrpc, "bitcoind is the default upstream flavor")
	assert.True(t, cfg.Services.Grpc)
}

func TestParseMissingFileFails(t *testing.T) {
	_, err := Parse([]string{"-c", filepath.Join(t.TempDir(), "absent.toml")})
	assert.Error(t, err)
}
