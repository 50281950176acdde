// Package config defines the engine's configuration surface: the flags
// cmd/otbx registers on each subcommand, collected into one Config the
// engine validates before it opens anything.
//
// Grounded on AKJUS-bsc-erigon's cmd/utils flag-registration pattern
// (one function binding named flags onto a *cobra.Command, a companion
// struct the bound values are read back into, byte sizes expressed with
// github.com/c2h5oh/datasize rather than raw integers) generalized from
// a chain-client's flag surface to this engine's much smaller one.
package config

import (
	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/otbx/otbx/internal/oerrors"
)

// Config collects every knob the engine needs to open a database file.
type Config struct {
	// Path is the single database file the block manager opens (§4.1).
	Path string
	// BlockSize is the fixed page size every block.Manager allocation
	// uses; human-readable on the CLI ("8KB", "16KB") via datasize.
	BlockSize datasize.ByteSize
	// WALDir is the directory the sharded WAL writer creates its
	// .wal_N files under (§4.9).
	WALDir string
	// WALShards is N, the WAL's shard count.
	WALShards int
	// BufferPoolCapacity bounds the LRU of resident block buffers
	// (§4.1), human-readable via datasize.
	BufferPoolCapacity datasize.ByteSize
	// CheckpointInterval is a row count, validated as non-negative. The
	// engine does not read it: no automatic checkpoint runs, and a
	// checkpoint happens only when Engine.Checkpoint is called.
	CheckpointInterval int64
	// ReadOnly makes Engine.Execute reject every node other than a SELECT
	// (Aggregate) node. The database file is still opened with its
	// advisory lock.
	ReadOnly bool
	// MetricsAddr, if non-empty, serves internal/metrics' Prometheus
	// handler on this address (disabled by default — observability,
	// not a query surface, per spec.md's "no network/RPC surface").
	MetricsAddr string
}

// Default returns the engine's out-of-the-box configuration.
func Default() Config {
	return Config{
		Path:               "otbx.db",
		BlockSize:          8 * datasize.KB,
		WALDir:             "wal",
		WALShards:          4,
		BufferPoolCapacity: 256 * datasize.MB,
		CheckpointInterval: 100_000,
	}
}

// Validate rejects a configuration the engine cannot safely open.
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.Wrap(oerrors.ErrValidation, "config: path is required")
	}
	if c.BlockSize < 512 {
		return errors.Wrap(oerrors.ErrValidation, "config: block size must be at least 512 bytes")
	}
	if c.WALDir == "" {
		return errors.Wrap(oerrors.ErrValidation, "config: wal directory is required")
	}
	if c.WALShards < 1 {
		return errors.Wrap(oerrors.ErrValidation, "config: wal shard count must be at least 1")
	}
	if c.BufferPoolCapacity < c.BlockSize {
		return errors.Wrap(oerrors.ErrValidation, "config: buffer pool capacity must be at least one block")
	}
	if c.CheckpointInterval < 0 {
		return errors.Wrap(oerrors.ErrValidation, "config: checkpoint interval cannot be negative")
	}
	return nil
}

// BindFlags registers every Config field as a flag on cmd, following
// AKJUS-bsc-erigon's cmd/utils style of one bind function per
// subcommand's option set. Call Config.Validate after cmd parses.
func BindFlags(cmd *cobra.Command, c *Config) {
	flags := cmd.Flags()
	flags.StringVar(&c.Path, "datadir", c.Path, "path to the database file")
	flags.Var(&byteSizeFlag{&c.BlockSize}, "block-size", "block manager page size (e.g. 8KB, 16KB)")
	flags.StringVar(&c.WALDir, "wal-dir", c.WALDir, "directory holding the sharded write-ahead log")
	flags.IntVar(&c.WALShards, "wal-shards", c.WALShards, "number of WAL shard files")
	flags.Var(&byteSizeFlag{&c.BufferPoolCapacity}, "buffer-pool-size", "buffer pool capacity (e.g. 256MB, 1GB)")
	flags.Int64Var(&c.CheckpointInterval, "checkpoint-interval", c.CheckpointInterval, "row count kept in the config; no automatic checkpoint runs")
	flags.BoolVar(&c.ReadOnly, "read-only", c.ReadOnly, "reject every statement other than SELECT (the file lock is still taken)")
	flags.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "address to serve Prometheus metrics on (empty disables)")
}

// byteSizeFlag adapts datasize.ByteSize (which already implements
// encoding.TextUnmarshaler) to pflag's Value interface so cobra can parse
// "8KB"/"256MB"-style flag values directly into it.
type byteSizeFlag struct {
	v *datasize.ByteSize
}

func (f *byteSizeFlag) String() string {
	if f.v == nil {
		return ""
	}
	return f.v.String()
}

func (f *byteSizeFlag) Set(s string) error {
	return f.v.UnmarshalText([]byte(s))
}

func (f *byteSizeFlag) Type() string { return "byteSize" }
