package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/aretw0/silo"
	"github.com/aretw0/silo/internal/ui"
)

// envConfig is read from the environment; flags take precedence.
type envConfig struct {
	Config  string `env:"SILO_CONFIG" envDefault:"silo.yaml"`
	Prefix  string `env:"SILO_COMMAND_PREFIX"`
	Verbose bool   `env:"SILO_VERBOSE"`
	NoColor string `env:"NO_COLOR"`
}

// globals are the resolved global settings.
type globals struct {
	config       string
	configSet    bool
	prefix       string
	verbose      bool
	noColor      bool
	settingsPath string
}

var (
	opts globals
	reg  *silo.Registry
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "silo",
	Short: "Maintenance commands of the configured entity and document managers",
	Long: `silo builds the managers declared in a settings file (silo.yaml) and
exposes the maintenance commands of each of them: schema tools, mapping
information, raw queries and cache clearing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(opts.verbose)
	},
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{
		Level: level,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
	slog.SetDefault(logger)
}

// Execute loads the settings, adds the manager commands to the root command
// and runs it. This is called by main.main().
func Execute() {
	code := run(context.Background(), os.Args[1:])
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	var err error
	opts, err = resolveGlobals(args, os.LookupEnv)
	if err != nil {
		ui.Error(os.Stderr, "Error: %v", err)
		return 1
	}
	ui.InitColors(opts.noColor)
	setupLogging(opts.verbose)

	reg, opts.settingsPath, err = loadRegistry(opts)
	if err != nil {
		ui.Error(os.Stderr, "Error: %v", err)
		return 1
	}
	if reg != nil {
		defer func() {
			if err := reg.Close(ctx); err != nil {
				slog.Warn("closing managers", "error", err)
			}
		}()
		reg.AddCLICommands(rootCmd, opts.prefix)
	}

	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.Error(os.Stderr, "Error: %v", err)
		return 1
	}
	return 0
}

// resolveGlobals reads the environment, then the global flags. Other flags
// and arguments are left to cobra.
func resolveGlobals(args []string, lookup func(string) (string, bool)) (globals, error) {
	environ := make(map[string]string)
	for _, k := range []string{"SILO_CONFIG", "SILO_COMMAND_PREFIX", "SILO_VERBOSE", "NO_COLOR"} {
		if v, ok := lookup(k); ok {
			environ[k] = v
		}
	}
	var cfg envConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return globals{}, fmt.Errorf("reading environment: %w", err)
	}

	g := globals{
		config:  cfg.Config,
		prefix:  cfg.Prefix,
		verbose: cfg.Verbose,
		noColor: cfg.NoColor != "",
	}
	_, g.configSet = environ["SILO_CONFIG"]

	pre := flag.NewFlagSet("silo", flag.ContinueOnError)
	pre.ParseErrorsAllowlist.UnknownFlags = true
	pre.Usage = func() {}
	pre.SetOutput(io.Discard)
	pre.StringVarP(&g.config, "config", "c", g.config, "")
	pre.StringVar(&g.prefix, "prefix", g.prefix, "")
	pre.BoolVarP(&g.verbose, "verbose", "v", g.verbose, "")
	pre.BoolVar(&g.noColor, "no-color", g.noColor, "")
	pre.BoolP("help", "h", false, "")
	if err := pre.Parse(args); err != nil {
		return globals{}, err
	}
	if pre.Changed("config") {
		g.configSet = true
	}
	return g, nil
}

// loadRegistry opens the settings file. Without an explicit file, silo.yaml
// is searched upwards from the working directory and a missing file leaves
// the registry empty.
func loadRegistry(g globals) (*silo.Registry, string, error) {
	path := g.config
	if !g.configSet {
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		found, err := silo.FindSettings(wd)
		if err != nil {
			return nil, "", nil
		}
		path = found
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("settings file %s does not exist", path)
	}

	r, err := silo.Open(path, silo.WithLogger(slog.Default()))
	if err != nil {
		return nil, "", fmt.Errorf("loading %s: %w", path, err)
	}
	return r, path, nil
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "silo.yaml", "Settings file (env SILO_CONFIG)")
	rootCmd.PersistentFlags().String("prefix", "", "Prefix of the manager commands (env SILO_COMMAND_PREFIX)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output (env NO_COLOR)")
}
