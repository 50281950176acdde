package config

import (
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.Path = "" }},
		{"tiny block size", func(c *Config) { c.BlockSize = 64 }},
		{"empty wal dir", func(c *Config) { c.WALDir = "" }},
		{"zero wal shards", func(c *Config) { c.WALShards = 0 }},
		{"buffer pool smaller than block", func(c *Config) { c.BufferPoolCapacity = 1 }},
		{"negative checkpoint interval", func(c *Config) { c.CheckpointInterval = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}

func TestBindFlagsParsesHumanReadableByteSizes(t *testing.T) {
	c := Default()
	cmd := &cobra.Command{Use: "test"}
	BindFlags(cmd, &c)

	require.NoError(t, cmd.Flags().Parse([]string{"--block-size=16KB", "--buffer-pool-size=512MB", "--wal-shards=8"}))

	require.Equal(t, 16*datasize.KB, c.BlockSize)
	require.Equal(t, 512*datasize.MB, c.BufferPoolCapacity)
	require.Equal(t, 8, c.WALShards)
}
