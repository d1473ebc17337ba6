package core

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/dreamehome/internal/structrpc"
)

// RegistryServiceName is the gRPC service that lists compiled-in plugins.
const RegistryServiceName = "dreamehome.registry.v1.Registry"

// RegistryServer is the handler interface for RegistryServiceName.
type RegistryServer interface {
	ListPlugins(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DescribePlugin(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var registryServiceDesc = grpc.ServiceDesc{
	ServiceName: RegistryServiceName,
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		structrpc.Method(RegistryServiceName, "ListPlugins", func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(RegistryServer).ListPlugins(ctx, req)
		}),
		structrpc.Method(RegistryServiceName, "DescribePlugin", func(srv any, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(RegistryServer).DescribePlugin(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "registry/v1/registry.proto",
}

// RegisterRegistryServer registers srv on server.
func RegisterRegistryServer(server *grpc.Server, srv RegistryServer) {
	server.RegisterService(&registryServiceDesc, srv)
}

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

func (r *RegistryService) ListPlugins(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]any, 0, len(r.plugins))
	for _, p := range r.plugins {
		manifest := p.Manifest()
		plugins = append(plugins, map[string]any{
			"plugin_id":    manifest.PluginID,
			"display_name": manifest.DisplayName,
			"version":      manifest.Version,
			"status":       string(p.Health()),
		})
	}
	return structrpc.Response(map[string]any{"plugins": plugins})
}

func (r *RegistryService) DescribePlugin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	pluginID := structrpc.String(req, "plugin_id")
	if pluginID == "" {
		return nil, status.Error(codes.InvalidArgument, "plugin_id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != pluginID {
			continue
		}

		services := make([]any, 0, len(manifest.Services))
		for _, svc := range manifest.Services {
			services = append(services, svc)
		}
		dashboards := make([]any, 0)
		for _, d := range p.Dashboards() {
			dashboards = append(dashboards, map[string]any{
				"name": d.Name,
				"path": DashboardPath(manifest.PluginID, d.Name),
			})
		}

		return structrpc.Response(map[string]any{
			"plugin": map[string]any{
				"plugin_id":      manifest.PluginID,
				"display_name":   manifest.DisplayName,
				"version":        manifest.Version,
				"services":       services,
				"agents_md":      p.AgentsMD(),
				"status":         string(p.Health()),
				"health_message": p.HealthMessage(),
				"dashboards":     dashboards,
			},
		})
	}

	return nil, status.Errorf(codes.NotFound, "plugin %q not found", pluginID)
}
