package util

import (
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestParseEndpoints(t *testing.T) {
	eps := ParseEndpoints("a:7000, secret@b ,,")
	require.Len(t, eps, 2)
	assert.Equal(t, "a:7000", eps[0].Addr())
	assert.Equal(t, "b:6379", eps[1].Addr())
	assert.Equal(t, "secret", eps[1].Password)

	eps = ParseEndpoints("host=foo;port=7001;db=3")
	require.Len(t, eps, 1)
	assert.Equal(t, "foo:7001", eps[0].Addr())
	assert.Equal(t, 3, eps[0].DB)

	assert.Empty(t, ParseEndpoints("  "))
}

func TestGetClientConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("masters", "m1:7000,m2:7000")
	viper.Set("replicas", "r1")
	viper.Set("password", "pw")
	viper.Set("db", 2)
	viper.Set("client-name", "test")
	viper.Set("timeout", 3*time.Second)
	viper.Set("pool-multiplier", 4)
	viper.Set("pool-timeout", time.Second)
	viper.Set("buffer-size", 512)
	viper.Set("buffer-slots", 8)
	viper.Set("log-level", "warn")

	conf, err := GetClientConfig()
	require.NoError(t, err)

	require.Len(t, conf.Masters, 2)
	require.Len(t, conf.Replicas, 1)
	assert.Equal(t, "pw", conf.Masters[0].Password)
	assert.Equal(t, 2, conf.Replicas[0].DB)
	assert.Equal(t, "test", conf.Masters[1].ClientName)
	assert.Equal(t, 3*time.Second, conf.SendTimeout)
	assert.Equal(t, 3*time.Second, conf.ReceiveTimeout)
	assert.Equal(t, 4, conf.PoolSizeMultiplier)
	assert.Equal(t, 512, conf.BufferPoolCeiling)
}

func TestGetClientConfig_RejectsMissingMasters(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("masters", "")
	viper.Set("pool-multiplier", 1)
	viper.Set("buffer-size", 512)
	viper.Set("log-level", "info")

	_, err := GetClientConfig()
	assert.Error(t, err)
}
