package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"google.golang.org/grpc"

	"github.com/joshp123/dreamehome/internal/structrpc"
	"github.com/joshp123/dreamehome/plugins/dreame"
)

var fanSpeeds = map[string]int{
	"silent":   dreame.FanSpeedSilent,
	"standard": dreame.FanSpeedStandard,
	"strong":   dreame.FanSpeedStrong,
	"turbo":    dreame.FanSpeedTurbo,
}

func dreameCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := outputMode{json: jsonOutput}
	if len(args) == 0 {
		dreameUsage()
		os.Exit(2)
	}

	flags := flag.NewFlagSet("dreame "+args[0], flag.ExitOnError)
	device := flags.String("device", "", "Device id or name (default: first device)")
	cached := flags.Bool("cached", false, "Report cached values without polling the device")
	_ = flags.Parse(args[1:])
	rest := flags.Args()

	call := func(method string, req map[string]any) map[string]any {
		if req == nil {
			req = map[string]any{}
		}
		if method != "ListDevices" && *device != "" {
			req["device_id"] = resolveDevice(ctx, conn, *device)
		}
		resp, err := structrpc.Invoke(ctx, conn, dreame.ServiceName, method, req)
		if err != nil {
			fatal("dreame "+args[0], err)
		}
		return resp
	}

	switch args[0] {
	case "devices":
		resp := call("ListDevices", nil)
		if out.json {
			out.printJSON(resp)
			return
		}
		rows := [][]string{{"ID", "NAME", "MODEL", "TRANSPORT"}}
		for _, dev := range listField(resp, "devices") {
			rows = append(rows, []string{str(dev, "id"), str(dev, "name"), str(dev, "model"), str(dev, "transport")})
		}
		out.table(rows)
	case "status":
		resp := call("GetStatus", map[string]any{"cached": *cached})
		if out.json {
			out.printJSON(resp)
			return
		}
		status, _ := resp["status"].(map[string]any)
		fmt.Printf("STATE:    %s\n", str(status, "state"))
		fmt.Printf("BATTERY:  %s%%\n", str(status, "battery_percent"))
		fmt.Printf("FAN:      %s\n", fanSpeedName(str(status, "fan_speed")))
		fmt.Printf("AREA:     %s m2\n", str(status, "cleaning_area"))
		fmt.Printf("TIME:     %s min\n", str(status, "cleaning_time"))
		if errText := str(status, "error"); errText != "" && errText != "no error" {
			fmt.Printf("ERROR:    %s\n", errText)
		}
		if lastErr := str(status, "last_error"); lastErr != "" {
			fmt.Printf("POLL:     %s\n", lastErr)
		}
	case "start", "stop", "pause", "dock", "locate":
		method := map[string]string{
			"start":  "StartClean",
			"stop":   "StopClean",
			"pause":  "Pause",
			"dock":   "Dock",
			"locate": "Locate",
		}[args[0]]
		call(method, nil)
		printOK(out, args[0])
	case "fan":
		if len(rest) != 1 {
			fatal("dreame fan", fmt.Errorf("usage: dreamehome-cli dreame fan <silent|standard|strong|turbo>"))
		}
		speed, err := parseFanSpeed(rest[0])
		if err != nil {
			fatal("dreame fan", err)
		}
		call("SetFanSpeed", map[string]any{"fan_speed": speed})
		printOK(out, "fan "+rest[0])
	case "water":
		if len(rest) != 1 {
			fatal("dreame water", fmt.Errorf("usage: dreamehome-cli dreame water <mode>"))
		}
		mode, err := strconv.Atoi(rest[0])
		if err != nil {
			fatal("dreame water", err)
		}
		call("SetWaterBoxMode", map[string]any{"mode": mode})
		printOK(out, "water "+rest[0])
	case "history":
		if len(rest) != 1 {
			fatal("dreame history", fmt.Errorf("usage: dreamehome-cli dreame history <YYYY-MM-DD|record_id>"))
		}
		req := map[string]any{"day": rest[0]}
		if id, err := strconv.ParseInt(rest[0], 10, 64); err == nil {
			req = map[string]any{"record_id": id}
		}
		resp := call("GetHistory", req)
		if out.json {
			out.printJSON(resp)
			return
		}
		rows := [][]string{{"START", "END", "DURATION", "AREA", "COMPLETE"}}
		for _, rec := range listField(resp, "history") {
			rows = append(rows, []string{str(rec, "start"), str(rec, "end"), str(rec, "duration"), str(rec, "area"), str(rec, "complete")})
		}
		out.table(rows)
	case "info":
		out.printJSON(call("GetDeviceInfo", nil))
	default:
		dreameUsage()
		os.Exit(2)
	}
}

func resolveDevice(ctx context.Context, conn *grpc.ClientConn, input string) string {
	resp, err := structrpc.Invoke(ctx, conn, dreame.ServiceName, "ListDevices", nil)
	if err != nil {
		fatal("list devices", err)
	}
	options := make(map[string]string)
	for _, dev := range listField(resp, "devices") {
		options[str(dev, "name")] = str(dev, "id")
	}
	id, err := resolveNamedID("device", input, options)
	if err != nil {
		fatal("resolve device", err)
	}
	return id
}

func parseFanSpeed(input string) (int, error) {
	if speed, ok := fanSpeeds[strings.ToLower(input)]; ok {
		return speed, nil
	}
	speed, err := strconv.Atoi(input)
	if err != nil || speed < dreame.FanSpeedSilent || speed > dreame.FanSpeedTurbo {
		return 0, fmt.Errorf("unknown fan speed %q (silent|standard|strong|turbo)", input)
	}
	return speed, nil
}

func fanSpeedName(value string) string {
	for name, speed := range fanSpeeds {
		if strconv.Itoa(speed) == value {
			return name
		}
	}
	return value
}

func printOK(out outputMode, action string) {
	if out.json {
		out.printJSON(map[string]any{"status": "ok", "action": action})
		return
	}
	fmt.Printf("ok: %s\n", action)
}

func dreameUsage() {
	fmt.Println("dreamehome-cli dreame <subcommand> [--device <id|name>]")
	fmt.Println("")
	fmt.Println("Subcommands:")
	fmt.Println("  devices")
	fmt.Println("  status [--cached]")
	fmt.Println("  start | stop | pause | dock | locate")
	fmt.Println("  fan <silent|standard|strong|turbo>")
	fmt.Println("  water <mode>")
	fmt.Println("  history <YYYY-MM-DD|record_id>")
	fmt.Println("  info")
}
