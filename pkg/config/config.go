// Package config holds the executor tuning knobs and their loading
// from the environment or a config file.
package config

import (
	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Spill partition tuning constants.
const (
	HashPartitionFactor = 1.5
	HashMinPartitions   = 4
	HashMaxPartitions   = 256
	// HashPartitionMem is the write-buffer memory assumed per open
	// partition file when clamping the partition count.
	HashPartitionMem = 32 << 10
)

// Settings carries the recognized executor options.
type Settings struct {
	// WorkMem is the byte budget for the hash table set, divided among
	// concurrent tables.
	WorkMem datasize.ByteSize
	// HashAggMemOverflow disables the memory and group caps so the
	// hash tables never spill.
	HashAggMemOverflow bool
	// TempDir is the root for spill files; empty means the system
	// temp directory.
	TempDir string
}

// Default returns the stock settings.
func Default() Settings {
	return Settings{WorkMem: 4 * datasize.MB}
}

// Load reads settings from v, accepting human-readable sizes for
// work_mem ("1800B", "4MB").  Keys also bind to the VEX_ environment
// prefix.
func Load(v *viper.Viper) (Settings, error) {
	v.SetEnvPrefix("vex")
	v.AutomaticEnv()
	s := Default()
	if raw := v.GetString("work_mem"); raw != "" {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(raw)); err != nil {
			return s, errors.Wrapf(err, "config: bad work_mem %q", raw)
		}
		s.WorkMem = size
	}
	if v.IsSet("hashagg_mem_overflow") {
		s.HashAggMemOverflow = v.GetBool("hashagg_mem_overflow")
	}
	if dir := v.GetString("temp_dir"); dir != "" {
		s.TempDir = dir
	}
	return s, nil
}
