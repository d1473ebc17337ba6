package router

import (
	"google.golang.org/grpc"

	"github.com/joshp123/dreamehome/internal/core"
)

// RegisterPlugins registers plugin services and core services on the gRPC server.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin) {
	core.RegisterRegistryServer(server, core.NewRegistryService(plugins))

	for _, p := range plugins {
		p.RegisterGRPC(server)
	}
}
