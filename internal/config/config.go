// Package config loads the indexer's TOML configuration file, in the
// teacher's go-flags-for-CLI-arguments-plus-a-typed-config-struct idiom
// (daglabs-btcd/kasparov/kasparovd/config). Unlike the teacher, the bulk of
// this daemon's settings are not process flags but a TOML document (spec.md
// §6 lists the section layout), parsed with github.com/BurntSushi/toml;
// go-flags is retained for the one thing that stays a flag, the config file
// path itself.
package config

import (
	"github.com/BurntSushi/toml"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/jcramer/slpgraphsearch/internal/upstream/bchdgrpc"
	"github.com/jcramer/slpgraphsearch/internal/upstream/jsonrpc"
)

// cliOptions is the one flag the daemon accepts directly; everything else
// lives in the TOML file it points at.
type cliOptions struct {
	ConfigPath string `short:"c" long:"config" description:"path to the TOML config file" default:"gs.toml"`
}

// Config is the fully parsed daemon configuration. The section layout
// follows the C++ source's gs++.toml: [services] toggles, one section per
// upstream flavor, and one section per subsystem.
type Config struct {
	Services    ServicesConfig    `toml:"services"`
	Bitcoind    jsonrpc.Config    `toml:"bitcoind"`
	Bchd        bchdgrpc.Config   `toml:"bchd"`
	Cache       CacheConfig       `toml:"cache"`
	GraphSearch GraphSearchConfig `toml:"graphsearch"`
	Grpc        GrpcConfig        `toml:"grpc"`
	Utxo        UtxoConfig        `toml:"utxo"`
	ZmqPub      ZmqPubConfig      `toml:"zmqpub"`

	// The sections below are this rewrite's own: the C++ source logged
	// unconditionally to stdout, kept the UTXO index in memory, and had no
	// separate HTTP debug surface, while this daemon rotates log files,
	// backs the peripheral UTXO index with MySQL, and serves a JSON status
	// page for operators.
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Http     HttpConfig     `toml:"http"`
}

// ServicesConfig is the [services] section: which subsystems this process
// runs. Graph search itself (validator + token graph ingestion) always runs;
// these flags gate the surfaces and side-effects around it.
type ServicesConfig struct {
	Cache          bool `toml:"cache"`
	GraphSearch    bool `toml:"graphsearch"`
	GraphSearchRpc bool `toml:"graphsearch_rpc"`
	UtxoSync       bool `toml:"utxosync"`
	Grpc           bool `toml:"grpc"`
	BitcoindZmq    bool `toml:"bitcoind_zmq"`
	ZmqPub         bool `toml:"zmqpub"`
	BchdGrpc       bool `toml:"bchd_grpc"`
}

// CacheConfig is the [cache] section.
type CacheConfig struct {
	Dir string `toml:"dir"`
}

// GraphSearchConfig is the [graphsearch] section. PrivateKey is the hex
// secp256k1 key the output oracle signs with; the oracle is enabled iff it
// is set.
type GraphSearchConfig struct {
	MaxExclusionSetSize int    `toml:"max_exclusion_set_size"`
	PrivateKey          string `toml:"private_key"`
}

// GrpcConfig is the [grpc] section: the outward query surface's listen
// address.
type GrpcConfig struct {
	Host string `toml:"host"`
	Port uint16 `toml:"port"`
}

// UtxoConfig is the [utxo] section. BlockHeight is the base height ingestion
// starts from; CheckpointLoad/CheckpointSave are optional file paths the
// peripheral UTXO index restores from at startup and snapshots to at
// shutdown.
type UtxoConfig struct {
	BlockHeight    uint32 `toml:"block_height"`
	CheckpointLoad string `toml:"checkpoint_load"`
	CheckpointSave string `toml:"checkpoint_save"`
}

// ZmqPubConfig is the [zmqpub] section, named after the C++ source's ZMQ
// publish config even though this rewrite's fan-out is a plain TCP
// listener (internal/publish) rather than a ZMQ socket.
type ZmqPubConfig struct {
	Bind string `toml:"bind"`
}

// DatabaseConfig is the [database] section backing the peripheral UTXO
// index.
type DatabaseConfig struct {
	Host       string `toml:"host"`
	Port       uint16 `toml:"port"`
	User       string `toml:"user"`
	Pass       string `toml:"pass"`
	Name       string `toml:"name"`
	MigrateURL string `toml:"migrate_url"`
}

// LoggingConfig is the [logging] section.
type LoggingConfig struct {
	Dir      string `toml:"dir"`
	Level    string `toml:"level"`
	MaxSize  int    `toml:"max_size_mb"`
	MaxFiles int    `toml:"max_files"`
}

// HttpConfig is the [http] section: the human-readable status/debug surface.
type HttpConfig struct {
	Host string `toml:"host"`
	Port uint16 `toml:"port"`
}

// Parse reads the CLI args for the config file path, then decodes that
// file into a Config, applying defaults first.
func Parse(args []string) (*Config, error) {
	var opts cliOptions
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, errors.Wrap(err, "parsing command-line arguments")
	}

	cfg := defaultConfig()
	if _, err := toml.DecodeFile(opts.ConfigPath, cfg); err != nil {
		return nil, errors.Wrapf(err, "decoding config file %s", opts.ConfigPath)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Services: ServicesConfig{
			Cache:          true,
			GraphSearch:    true,
			GraphSearchRpc: true,
			Grpc:           true,
		},
		Cache: CacheConfig{
			Dir: "cache",
		},
		GraphSearch: GraphSearchConfig{
			MaxExclusionSetSize: 1000,
		},
		Grpc: GrpcConfig{
			Host: "0.0.0.0",
			Port: 8339,
		},
		Bitcoind: jsonrpc.Config{
			Host: "127.0.0.1",
			Port: 8332,
		},
		Bchd: bchdgrpc.Config{
			Host: "127.0.0.1",
			Port: 8335,
		},
		Http: HttpConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Dir:      "logs",
			Level:    "info",
			MaxSize:  10,
			MaxFiles: 10,
		},
	}
}
