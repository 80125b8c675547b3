// Command inkforge is the CLI for the book-generation job orchestrator.
//
// Usage:
//
//	inkforge serve --config config.yaml
//	inkforge worker --config config.yaml
//	inkforge migrate --config config.yaml
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/inkforge/orchestrator/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Run the HTTP API with an embedded worker pool."`
	Worker  WorkerCmd  `cmd:"" help:"Run a standalone worker loop, no HTTP API."`
	Migrate MigrateCmd `cmd:"" help:"Apply the database schema and exit."`

	Config    string `short:"c" help:"Path to config file." type:"path" required:""`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("inkforge orchestrator version %s\n", version)
	return nil
}

// loadConfig loads and validates the config file named by cli.Config,
// filling defaults first the way every subcommand needs.
func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.LoadConfig(config.LoaderOptions{Path: cli.Config})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("inkforge"),
		kong.Description("inkforge orchestrator - durable, resumable book-generation pipeline"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
