package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/courseforge/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	pidFile = "courseforged.pid"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit()
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "config":
		err = cmdConfig(os.Args[2:])
	case "check":
		err = cmdCheck(os.Args[2:])
	case "mcp":
		err = cmdMCP()
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("courseforge %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Courseforge - Generated courses with progress you keep

Usage:
  courseforge <command> [arguments]

Setup Commands:
  init              Initialize Courseforge (first-time setup)
  config            Show current configuration
  config set-key    Store the content generator API key

Daemon Commands:
  start             Start the courseforged daemon
  stop              Stop the daemon
  status            Show daemon status and learner progress
  logs              View daemon logs

Maintenance Commands:
  check             Check the learner's data for invariant violations
  check --repair    Check and repair

Integration Commands:
  mcp               Start MCP server on stdio

Other:
  help              Show this help message
  version           Show version information

Examples:
  courseforge init                 # Create ~/.courseforge and a learner id
  courseforge start                # Start daemon
  courseforge config set-key KEY   # Configure the generator API key
  courseforge mcp                  # Start MCP server for your editor`)
}

// daemonAddr is the base URL of the local daemon.
func daemonAddr(cfg *config.LocalConfig) string {
	return "http://" + net.JoinHostPort(cfg.Daemon.Bind, strconv.Itoa(cfg.Daemon.Port))
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	empty := width - filled

	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", empty) + "]"
}
