package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/daasclimate/internal/config"
)

type CLI struct {
	Config  string                   `short:"c" default:"config.yaml" type:"path" env:"CONFIG_PATH" help:"Path to the YAML config file."`
	EnvFile kongdotenv.ENVFileConfig `name:"env-file" optional:"" help:"Load environment variables from this file."`

	Serve        ServeCmd        `cmd:"" help:"Start the web server."`
	Consult      ConsultCmd      `cmd:"" help:"Run one consultation and stream the advice to stdout."`
	Inspect      InspectCmd      `cmd:"" help:"Print the climate tables and seasonal windows at a point."`
	Sync         SyncCmd         `cmd:"" help:"Fetch new dataset files from the mirror once."`
	Migrate      MigrateCmd      `cmd:"" help:"Apply database migrations."`
	ImportEvents ImportEventsCmd `cmd:"" name:"import-events" help:"Load hazard events from a CSV file."`
	Stats        StatsCmd        `cmd:"" help:"Show lookup cache and recent consultation statistics."`
}

// Globals is what every command receives after the config is loaded.
type Globals struct {
	Config *config.Config
	Logger *slog.Logger
}

// envFiles returns the dotenv files config.Load should read. The kong
// resolver only fills env-tagged flags, so secrets are loaded here.
func envFiles(cli CLI) []string {
	if cli.EnvFile == "" {
		return nil
	}
	return []string{string(cli.EnvFile)}
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("daasclimate"),
		kong.Description("Land-use advice from soil, climate projections and seasonal forecasts."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load(cli.Config, envFiles(cli)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "daasclimate: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	err = kctx.Run(&Globals{Config: cfg, Logger: logger})
	if err != nil {
		logger.Error("command failed", "command", kctx.Command(), "error", err)
		cancel()
		os.Exit(1)
	}
}
