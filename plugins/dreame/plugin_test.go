package dreame

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/dreamehome/internal/config"
	"github.com/joshp123/dreamehome/internal/core"
)

func TestNewPlugin(t *testing.T) {
	_, ok := NewPlugin(nil, nil)
	assert.False(t, ok)

	plugin, ok := NewPlugin(&config.DreameConfig{}, nil)
	require.True(t, ok)
	assert.Equal(t, core.HealthError, plugin.Health())
	assert.NotEmpty(t, plugin.HealthMessage())
	assert.Nil(t, plugin.Collectors())

	plugin, ok = NewPlugin(&config.DreameConfig{Devices: []config.DeviceConfig{{
		ID:        "hall",
		Name:      "Hallway",
		Transport: config.TransportLocal,
		Host:      "127.0.0.1",
		Token:     testToken,
	}}}, nil)
	require.True(t, ok)
	t.Cleanup(func() { _ = plugin.Close() })
	assert.Equal(t, core.HealthHealthy, plugin.Health())
	assert.Len(t, plugin.Collectors(), 3)
}

func TestPluginContract(t *testing.T) {
	plugin := Plugin{}
	assert.Equal(t, "dreame", plugin.ID())
	manifest := plugin.Manifest()
	assert.Equal(t, plugin.ID(), manifest.PluginID)
	assert.Equal(t, []string{ServiceName}, manifest.Services)
	assert.Contains(t, plugin.AgentsMD(), "dreame")

	dashboards := plugin.Dashboards()
	require.Len(t, dashboards, 1)
	assert.True(t, json.Valid(dashboards[0].JSON))

	require.NoError(t, core.ValidatePlugins([]core.Plugin{plugin}))
	require.NoError(t, plugin.Start(context.Background()))
	require.NoError(t, plugin.Close())
}

func TestPluginHealthFollowsPolls(t *testing.T) {
	client, transport := newTestClient(t, testConfig())
	plugin := Plugin{client: client, health: core.HealthHealthy}

	_, err := client.Status(context.Background(), "hall")
	require.NoError(t, err)
	assert.Equal(t, core.HealthHealthy, plugin.Health())
	assert.Empty(t, plugin.HealthMessage())

	transport.callers["up"].setRespond(func(string, any) (any, error) {
		return nil, errors.New("timeout")
	})
	_, err = client.Status(context.Background(), "up")
	require.Error(t, err)
	assert.Equal(t, core.HealthDegraded, plugin.Health())
	assert.Contains(t, plugin.HealthMessage(), "up: ")
}
