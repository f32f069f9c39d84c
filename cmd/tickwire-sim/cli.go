package main

import (
	"flag"
	"time"
)

// Options holds CLI options for the simulator.
type Options struct {
	ConfigPath  string
	Duration    time.Duration
	MetricsAddr string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("tickwire-sim", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.DurationVar(&opts.Duration, "duration", 5*time.Second, "How long to run the simulated session")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Optional address to serve Prometheus metrics on")
	_ = fs.Parse(args)
	return opts
}
