package config_test

import (
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/vexdb/vex/pkg/config"
)

func TestDefaults(t *testing.T) {
	s := config.Default()
	require.Equal(t, 4*datasize.MB, s.WorkMem)
	require.False(t, s.HashAggMemOverflow)
}

func TestLoad(t *testing.T) {
	v := viper.New()
	v.Set("work_mem", "1800B")
	v.Set("hashagg_mem_overflow", true)
	v.Set("temp_dir", "/tmp/vex")
	s, err := config.Load(v)
	require.NoError(t, err)
	require.EqualValues(t, 1800, s.WorkMem)
	require.True(t, s.HashAggMemOverflow)
	require.Equal(t, "/tmp/vex", s.TempDir)
}

func TestLoadBadSize(t *testing.T) {
	v := viper.New()
	v.Set("work_mem", "lots")
	_, err := config.Load(v)
	require.Error(t, err)
}
