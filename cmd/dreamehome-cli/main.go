package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/dreamehome/internal/config"
	"github.com/joshp123/dreamehome/internal/core"
	"github.com/joshp123/dreamehome/internal/structrpc"
)

func main() {
	jsonOutput := false
	args := make([]string, 0, len(os.Args))
	for _, arg := range os.Args[1:] {
		if arg == "--json" || arg == "-json" {
			jsonOutput = true
			continue
		}
		args = append(args, arg)
	}
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	addr := resolveAddr()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	switch args[0] {
	case "plugins":
		pluginsCmd(ctx, conn, args[1:], outputMode{json: jsonOutput})
	case "services":
		servicesCmd(ctx, conn)
	case "call":
		callCmd(ctx, conn, args[1:])
	case "dreame":
		dreameCmd(ctx, conn, args[1:], jsonOutput)
	default:
		usage()
		os.Exit(2)
	}
}

func pluginsCmd(ctx context.Context, conn *grpc.ClientConn, args []string, out outputMode) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		resp, err := structrpc.Invoke(ctx, conn, core.RegistryServiceName, "ListPlugins", nil)
		if err != nil {
			fatal("list plugins", err)
		}
		if out.json {
			out.printJSON(resp)
			return
		}
		rows := [][]string{{"ID", "NAME", "VERSION", "STATUS"}}
		for _, item := range listField(resp, "plugins") {
			rows = append(rows, []string{str(item, "plugin_id"), str(item, "display_name"), str(item, "version"), str(item, "status")})
		}
		out.table(rows)
	case "describe":
		if len(args) < 2 {
			fatal("describe", fmt.Errorf("missing plugin id"))
		}
		resp, err := structrpc.Invoke(ctx, conn, core.RegistryServiceName, "DescribePlugin", map[string]any{"plugin_id": args[1]})
		if err != nil {
			fatal("describe plugin", err)
		}
		if out.json {
			out.printJSON(resp)
			return
		}
		plugin, _ := resp["plugin"].(map[string]any)
		fmt.Printf("id: %s\n", str(plugin, "plugin_id"))
		fmt.Printf("name: %s\n", str(plugin, "display_name"))
		fmt.Printf("version: %s\n", str(plugin, "version"))
		fmt.Printf("status: %s\n", str(plugin, "status"))
		if msg := str(plugin, "health_message"); msg != "" {
			fmt.Printf("health: %s\n", msg)
		}
		fmt.Println("services:")
		if services, ok := plugin["services"].([]any); ok {
			for _, svc := range services {
				fmt.Printf("  - %v\n", svc)
			}
		}
		fmt.Println("dashboards:")
		for _, dash := range listField(plugin, "dashboards") {
			fmt.Printf("  - %s (%s)\n", str(dash, "name"), str(dash, "path"))
		}
		fmt.Println("agents_md:")
		fmt.Println(str(plugin, "agents_md"))
	default:
		usage()
		os.Exit(2)
	}
}

func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	descSource := reflectionSource(ctx, conn)
	services, err := grpcurl.ListServices(descSource)
	if err != nil {
		fatal("list services", err)
	}

	for _, service := range services {
		fmt.Println(service)
	}
}

// callCmd invokes any Struct-based method: call <service/method> --data '{}'.
func callCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("call", flag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	_ = flags.Parse(args)
	remaining := flags.Args()
	if len(remaining) < 1 {
		fatal("call", fmt.Errorf("missing method (service/method)"))
	}
	service, method, ok := strings.Cut(strings.TrimPrefix(remaining[0], "/"), "/")
	if !ok {
		fatal("call", fmt.Errorf("method must be service/method"))
	}

	var reader io.Reader
	if *data != "" {
		reader = strings.NewReader(*data)
	} else if isStdinTerminal() {
		reader = strings.NewReader("{}")
	} else {
		reader = os.Stdin
	}
	req := map[string]any{}
	if err := json.NewDecoder(reader).Decode(&req); err != nil {
		fatal("parse request", err)
	}

	resp, err := structrpc.Invoke(ctx, conn, service, method, req)
	if err != nil {
		fatal("invoke", err)
	}
	outputMode{json: true}.printJSON(resp)
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func isStdinTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func resolveAddr() string {
	if value := os.Getenv(config.EnvGRPCAddr); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "localhost:9000"
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "dreamehome", "config.yaml"))
	}
	return paths
}

func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil {
		return ""
	}
	return strings.Replace(cfg.Core.GRPCAddr, "0.0.0.0", "localhost", 1)
}

func usage() {
	fmt.Println("dreamehome-cli [--json] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  plugins list")
	fmt.Println("  plugins describe <plugin_id>")
	fmt.Println("  services")
	fmt.Println("  call <service/method> --data '{}' (or pipe JSON via stdin)")
	fmt.Println("  dreame <subcommand> (run 'dreame' for details)")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
