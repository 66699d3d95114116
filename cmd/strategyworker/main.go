package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/alecthomas/kong"

	"github.com/JakeFAU/frontier-strategy/internal/config"
	"github.com/JakeFAU/frontier-strategy/internal/server"
	"github.com/JakeFAU/frontier-strategy/internal/strategy"
)

func main() {
	if err := Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// CLI is the command tree.
type CLI struct {
	Config string `help:"Path to the config file." type:"path" env:"STRATEGY_CONFIG" short:"c"`

	Run        RunCmd        `cmd:"" help:"Run the strategy worker."`
	Validate   ValidateCmd   `cmd:"" help:"Load and validate the configuration."`
	Strategies StrategiesCmd `cmd:"" help:"List the registered crawling strategies."`
}

// Dependencies are bound into every command.
type Dependencies struct {
	Ctx        context.Context
	Stdout     io.Writer
	ConfigPath string
}

// Run executes the CLI with the given arguments.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	deps := &Dependencies{Ctx: ctx, Stdout: stdout}
	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("strategyworker"),
		kong.Description("Hosts a crawl frontier strategy and streams its score updates."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
		kong.Bind(deps),
	)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return fmt.Errorf("no command specified. Run 'strategyworker --help' to see available commands")
	}
	switch args[0] {
	case "help", "--help", "-h":
		_, _ = parser.Parse([]string{"--help"})
		return nil
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	deps.ConfigPath = cli.Config
	return kongCtx.Run()
}

// RunCmd builds the application and blocks until it stops.
type RunCmd struct{}

// Run loads the configuration and runs the worker.
func (c *RunCmd) Run(deps *Dependencies) error {
	cfg, err := config.Load(deps.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	app, err := server.Build(deps.Ctx, &cfg)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return app.Run(deps.Ctx)
}

// ValidateCmd checks the configuration without connecting to anything.
type ValidateCmd struct{}

// Run loads the configuration and reports the selected backends.
func (c *ValidateCmd) Run(deps *Dependencies) error {
	cfg, err := config.Load(deps.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if !slices.Contains(strategy.Names(), cfg.Strategy.Name) {
		return fmt.Errorf("unknown strategy %q (registered: %v)", cfg.Strategy.Name, strategy.Names())
	}
	fmt.Fprintf(deps.Stdout, "strategy=%s producer=%s spiderlog=%s state_store=%s transport=%s\n",
		cfg.Strategy.Name,
		cfg.Updates.Producer,
		cfg.SpiderLog.Source,
		cfg.Worker.StateStore,
		cfg.Updates.Transport,
	)
	return nil
}

// StrategiesCmd prints the registry.
type StrategiesCmd struct{}

// Run lists every registered strategy name.
func (c *StrategiesCmd) Run(deps *Dependencies) error {
	for _, name := range strategy.Names() {
		fmt.Fprintln(deps.Stdout, name)
	}
	return nil
}

