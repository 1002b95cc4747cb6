package config

import (
	"flag"
	"fmt"
)

// Flags command line options.
type Flags struct {
	ConfigPath string
	Mode       string
	Setup      bool
	Once       bool
}

// ParseFlags parses args (without the program name).
func ParseFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("autotrade", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to yaml config")
	mode := fs.String("mode", ModeNormal, "run mode: normal (daily schedule) or test (every minute)")
	setup := fs.Bool("setup", false, "run the interactive setup wizard and write the config")
	once := fs.Bool("once", false, "run a single cycle and exit")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if *mode != ModeNormal && *mode != ModeTest {
		return Flags{}, fmt.Errorf("invalid --mode provided, --mode=%s", *mode)
	}

	return Flags{ConfigPath: *configPath, Mode: *mode, Setup: *setup, Once: *once}, nil
}
