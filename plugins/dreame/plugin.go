package dreame

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/dreamehome/internal/config"
	"github.com/joshp123/dreamehome/internal/core"
	"github.com/joshp123/dreamehome/internal/rate"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

// Plugin implements the plugin contract for Dreame vacuums.
type Plugin struct {
	client        *Client
	health        core.HealthStatus
	healthMessage string
}

var _ core.Lifecycle = Plugin{}

// NewPlugin constructs a Dreame plugin from config.
func NewPlugin(cfg *config.DreameConfig, logger *slog.Logger) (Plugin, bool) {
	if cfg == nil {
		return Plugin{}, false
	}

	runtimeCfg, err := ConfigFromFile(cfg)
	if err != nil {
		return Plugin{health: core.HealthError, healthMessage: err.Error()}, true
	}

	client, err := NewClient(runtimeCfg, logger)
	if err != nil {
		return Plugin{health: core.HealthError, healthMessage: err.Error()}, true
	}

	return Plugin{client: client, health: core.HealthHealthy}, true
}

func (p Plugin) ID() string {
	return "dreame"
}

func (p Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "dreame",
		DisplayName: "Dreame",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p Plugin) AgentsMD() string {
	return agentsMD
}

func (p Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "dreame-overview", JSON: dashboardJSON}}
}

func (p Plugin) RegisterGRPC(server *grpc.Server) {
	RegisterDreameService(server, p.client)
}

func (p Plugin) Collectors() []prometheus.Collector {
	if p.client == nil {
		return nil
	}
	return append([]prometheus.Collector{NewMetricsCollector(p.client)}, rate.MetricsCollectors()...)
}

// Health is degraded while any device's last poll failed.
func (p Plugin) Health() core.HealthStatus {
	if p.client == nil || p.health != core.HealthHealthy {
		return p.health
	}
	if len(p.failingDevices()) > 0 {
		return core.HealthDegraded
	}
	return core.HealthHealthy
}

func (p Plugin) HealthMessage() string {
	if p.client == nil || p.healthMessage != "" {
		return p.healthMessage
	}
	failing := p.failingDevices()
	if len(failing) == 0 {
		return ""
	}
	return fmt.Sprintf("poll failing: %s", strings.Join(failing, "; "))
}

func (p Plugin) failingDevices() []string {
	var out []string
	for _, state := range p.client.DeviceStates() {
		if state.Status.LastError != "" {
			out = append(out, state.Device.ID+": "+state.Status.LastError)
		}
	}
	return out
}

// Start begins monitoring every configured device.
func (p Plugin) Start(context.Context) error {
	if p.client == nil {
		return nil
	}
	p.client.Start()
	return nil
}

func (p Plugin) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
