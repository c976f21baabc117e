// Sensornode runs one sensor node of the edge IDS testbed.
//
// A publisher node ("Sensor-1") joins the network, opens an MQTT session
// and publishes a telemetry message every five seconds while sampling
// its sensor. A sampler node ("Sensor-2") only samples its sensor, once a
// second. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); without one the
// compiled-in defaults are used.
//
// Usage:
//
//	sensornode run             Boot the node and run until interrupted
//	sensornode init [dir]      Write an example sensornode.yaml
//	sensornode payload         Print the telemetry topic and payload
//	sensornode version         Print version and build information
//	sensornode -o json version Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/edgeids/sensornode/internal/buildinfo"
	"github.com/edgeids/sensornode/internal/config"
	"github.com/edgeids/sensornode/internal/metrics"
	"github.com/edgeids/sensornode/internal/telemetry"
)

// main constructs the OS-level environment and delegates to [run] so the
// whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. stdout receives the node console (the
// serial-monitor style progress lines) and command output; stderr
// receives structured logs. Arguments are parsed by hand to keep
// package-level flag state out of tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var role string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-role" && i+1 < len(args):
			role = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-role="):
			role = strings.TrimPrefix(args[i], "-role=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "run":
		return runNode(ctx, stdout, stderr, configPath, role)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "payload":
		return runPayload(stdout, configPath, role, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runNode handles "sensornode run". It blocks until SIGINT or SIGTERM,
// then closes the broker session and returns nil.
func runNode(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, role string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, cfgPath, err := loadConfig(configPath, role)
	if err != nil {
		return err
	}

	// Validate already rejected unknown levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(stderr, level, cfg.LogFormat)

	bootID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate boot id: %w", err)
	}
	logger = logger.With("node", cfg.Node.Name, "boot_id", bootID.String())
	logger.Info("starting sensornode",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"role", cfg.Node.Role,
		"config", cfgPath,
	)

	m := metrics.New(cfg.Node.Name)
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	n, err := buildNode(cfg, stdout, logger, m)
	if err != nil {
		return err
	}
	return n.Run(ctx)
}

// loadConfig locates and parses the YAML configuration. When no file is
// found and none was requested explicitly, the compiled-in defaults for
// role are used and the returned path is "(defaults)". A non-empty role
// overrides the file's node role.
func loadConfig(explicit, role string) (*config.Config, string, error) {
	var cfg *config.Config

	cfgPath, err := config.FindConfig(explicit)
	switch {
	case errors.Is(err, config.ErrNoConfig):
		r := role
		if r == "" {
			r = config.RolePublisher
		}
		cfg, cfgPath = config.Default(r), "(defaults)"
	case err != nil:
		return nil, "", err
	default:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	}

	if role != "" && role != cfg.Node.Role {
		cfg.SetRole(role)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// runPayload prints the topic and exact payload a publisher node sends.
func runPayload(w io.Writer, configPath, role, outputFmt string) error {
	cfg, _, err := loadConfig(configPath, role)
	if err != nil {
		return err
	}
	if cfg.Node.Role != config.RolePublisher {
		return fmt.Errorf("node role %s does not publish telemetry", cfg.Node.Role)
	}

	msg := telemetry.Mock()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Topic   string            `json:"topic"`
			Message telemetry.Message `json:"message"`
		}{cfg.MQTT.Topic, msg})
	}
	payload, err := msg.Payload()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s\n", cfg.MQTT.Topic, payload)
	return nil
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "sensornode - edge sensor node")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: sensornode [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run          Boot the node and run until interrupted")
	fmt.Fprintln(w, "  init [dir]   Write an example sensornode.yaml (default: .)")
	fmt.Fprintln(w, "  payload      Print the telemetry topic and payload")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -role <role>      publisher or sampler (overrides config)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./sensornode.yaml, ~/.config/sensornode/sensornode.yaml,")
	fmt.Fprintln(w, "  /etc/sensornode/sensornode.yaml")
	return nil
}
