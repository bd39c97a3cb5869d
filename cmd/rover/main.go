// Rover - autonomous ball-collecting arena robot
// Runs the perception/decision/actuation loop against the drive daemon,
// or against a simulated arena with -sim.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/pkg/app"
	"github.com/teslashibe/go-rover/pkg/rover"
)

// options are the flags that choose what to run rather than how.
type options struct {
	printConfig bool
	calibrate   []rover.Move
}

func main() {
	cfg, opts := parseFlags()

	if opts.printConfig {
		out, err := config.Encode(cfg)
		if err != nil {
			stdlog.Fatalf("❌ Encode config: %v", err)
		}
		fmt.Print(string(out))
		return
	}

	a, err := app.New(cfg)
	if err != nil {
		stdlog.Fatalf("❌ Configuration error: %v", err)
	}

	if err := a.Init(); err != nil {
		stdlog.Fatalf("❌ Initialization failed: %v", err)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(opts.calibrate) > 0 {
		results, err := a.Calibrate(ctx, opts.calibrate)
		for _, r := range results {
			mark := "✅"
			if !r.Reached {
				mark = "⚠️"
			}
			fmt.Printf("%s %-14s heading %6.1f -> %6.1f (want %6.1f)\n", mark, r.Move, r.Before, r.After, r.Want)
		}
		if err != nil {
			stdlog.Fatalf("❌ Calibration failed: %v", err)
		}
		return
	}

	if err := a.Run(ctx); err != nil {
		stdlog.Fatalf("❌ Runtime error: %v", err)
	}
}

// parseFlags parses command line flags and returns configuration.
// Flags override the config file; the environment overrides both in app.New.
func parseFlags() (app.Config, options) {
	path := flag.String("config", config.Path(""), "YAML config file (overrides ROVER_CONFIG env var)")
	simMode := flag.Bool("sim", false, "Run against the simulated arena")
	addr := flag.String("addr", "", "Dashboard listen address (empty keeps the config value)")
	noWeb := flag.Bool("no-web", false, "Disable the dashboard")
	cautious := flag.Bool("cautious", false, "Head home earlier and turn in less aggressively")
	level := flag.String("log-level", "", "Log level: debug, info, warn, error")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	calibrate := flag.String("calibrate", "", "Run open-loop moves such as \"spin:90,straight:50\" and report the compass, instead of a match")
	flag.Parse()

	opts := options{printConfig: *printConfig}
	if *calibrate != "" {
		moves, err := rover.ParseMoves(*calibrate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ -calibrate: %v\n", err)
			os.Exit(2)
		}
		opts.calibrate = moves
	}

	defaults := app.DefaultConfig()
	if *simMode {
		defaults = app.SimConfig()
	}
	cfg, err := config.Load(*path, defaults)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(2)
	}

	if *simMode {
		cfg.Sim = true
	}
	if *addr != "" {
		cfg.Web.Addr = *addr
	}
	if *noWeb {
		cfg.Web.Addr = ""
	}
	if *cautious {
		cfg.Rover.Behavior = cfg.Rover.Behavior.Cautious()
	}
	if *level != "" {
		cfg.LogLevel = *level
	}
	return cfg, opts
}
