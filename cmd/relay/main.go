package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/connector/registry"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/observability"

	// Import all available adapters to register them
	_ "github.com/ajitpratap0/relay/pkg/connector/destinations"
	_ "github.com/ajitpratap0/relay/pkg/connector/sources"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "relay",
		Short: "Relay - pipeline runner moving records from ALM into issue trackers and stores",
		Long: `Relay runs pipelines that extract records from a source system (HP ALM,
JSON files) and create them one by one in a destination (Jira, MongoDB,
JSON files). Jobs are tracked with logs, errors and counts, retried on
transient failures and can be dispatched to workers over Kafka.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.shutdown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "Path to relay.yaml (default: ./relay.yaml or $HOME/.relay/relay.yaml)")
	flags.StringP("pipelines", "p", "pipelines.yaml", "Path to the pipeline definitions file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("store", config.StoreMemory, "Job store driver (memory, postgres)")
	flags.String("queue", config.QueueLocal, "Task queue driver (local, kafka)")
	// Flags the user sets win over relay.yaml and RELAY_* values
	_ = a.v.BindPFlag("pipelines", flags.Lookup("pipelines"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("store.driver", flags.Lookup("store"))
	_ = a.v.BindPFlag("queue.driver", flags.Lookup("queue"))

	// Version command
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Relay v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	// List command to show available adapters
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available adapters",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available Source Adapters:")
			for _, source := range registry.Sources() {
				fmt.Printf("  - %s\n", source)
			}
			fmt.Println("\nAvailable Destination Adapters:")
			for _, dest := range registry.Destinations() {
				fmt.Printf("  - %s\n", dest)
			}
		},
	})

	root.AddCommand(
		newTestConnectionCommand(a),
		newRunCommand(a),
		newEnqueueCommand(a),
		newWorkerCommand(a),
		newJobCommand(a),
	)
	return root
}

// app carries process-wide state shared by the commands
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.AppConfig
	log        *zap.Logger
}

func (a *app) init(ctx context.Context) error {
	cfg, err := config.LoadAppConfig(a.v, a.configFile)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Logger()); err != nil {
		return err
	}
	if cfg.Tracing.ServiceVersion == "" || cfg.Tracing.ServiceVersion == "dev" {
		cfg.Tracing.ServiceVersion = version
	}
	if err := observability.Init(cfg.Tracing); err != nil {
		return err
	}

	registry.Default().Seal()
	a.cfg = cfg
	a.log = logger.Get().With(zap.String("component", "relay-cli"))
	return nil
}

func (a *app) shutdown() {
	if err := observability.Shutdown(context.Background()); err != nil && a.log != nil {
		a.log.Warn("failed to flush traces", zap.Error(err))
	}
	_ = logger.Sync()
}
