package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/matheus3301/chatsync/internal/control"
	"github.com/matheus3301/chatsync/internal/session"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := session.Resolve(*profileFlag)
	if err := session.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		cmdStatus(name, *jsonFlag)
	case "check":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chatsyncctl check <chat|notify>")
			os.Exit(1)
		}
		cmdCheck(name, args[1], *jsonFlag)
	case "profiles":
		if len(args) >= 2 && args[1] == "list" {
			cmdProfilesList(*jsonFlag)
		} else {
			fmt.Fprintln(os.Stderr, "usage: chatsyncctl profiles list")
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status           Show process and channel health")
	fmt.Fprintln(os.Stderr, "  check <channel>  Exit non-zero unless the channel is open")
	fmt.Fprintln(os.Stderr, "  profiles list    List known profiles")
}

func connect(name string) *control.Client {
	c, err := control.New(session.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", name, err)
		os.Exit(1)
	}
	return c
}

func cmdStatus(name string, jsonOut bool) {
	c := connect(name)
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := make(map[string]json.RawMessage, len(control.Services))
	for _, svc := range control.Services {
		resp, err := c.Check(ctx, svc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		label := svc
		if label == "" {
			label = "daemon"
		}
		if !jsonOut {
			fmt.Printf("%-8s %s\n", label+":", resp.GetStatus())
			continue
		}
		raw, err := protojson.Marshal(resp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
			os.Exit(1)
		}
		out[label] = raw
	}
	if jsonOut {
		outputJSON(out)
	}
}

func cmdCheck(name, service string, jsonOut bool) {
	c := connect(name)
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.Check(ctx, service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		fmt.Println(protojson.Format(resp))
	} else {
		fmt.Println(resp.GetStatus())
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		os.Exit(2)
	}
}

type profileInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
}

func cmdProfilesList(jsonOut bool) {
	entries, err := os.ReadDir(filepath.Join(session.BaseDir(), "profiles"))
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var profiles []profileInfo
	for _, e := range entries {
		if !e.IsDir() || session.ValidateName(e.Name()) != nil {
			continue
		}
		profiles = append(profiles, profileInfo{
			Name:    e.Name(),
			Path:    session.Dir(e.Name()),
			Running: control.Reachable(session.SocketPath(e.Name()), time.Second),
		})
	}
	if jsonOut {
		outputJSON(profiles)
		return
	}
	if len(profiles) == 0 {
		fmt.Println("No profiles found.")
		return
	}
	for _, p := range profiles {
		running := "stopped"
		if p.Running {
			running = "running"
		}
		fmt.Printf("%-20s %s (%s)\n", p.Name, p.Path, running)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
