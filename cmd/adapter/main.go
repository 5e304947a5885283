package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"moduleadapter/internal/framework"
	"moduleadapter/internal/host"
	"moduleadapter/internal/logic"
	"moduleadapter/internal/telemetry"
	pf "moduleadapter/pkg/framework"
)

var (
	moduleFlag string
	prefixFlag string
	confFlag   string
	scriptFlag string

	rootCmd = &cobra.Command{
		Use:   "adapter",
		Short: "Run one module under the module adapter protocol",
		Long: `adapter hosts a single module: it connects to the bus, wires the module's
requirements and provided commands, drives the module through pre-init, init
and ready, then keeps running until interrupted.

Without --script the built-in EVSE manager module is hosted; with --script the
given Starlark file is loaded as the module.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
)

func init() {
	rootCmd.Flags().StringVar(&moduleFlag, "module", "", "module id in the runtime config (overrides EV_MODULE)")
	rootCmd.Flags().StringVar(&prefixFlag, "prefix", "", "installation prefix (overrides EV_MAIN_DIR)")
	rootCmd.Flags().StringVar(&confFlag, "conf", "", "runtime config file (overrides EV_CONF_FILE)")
	rootCmd.Flags().StringVar(&scriptFlag, "script", "", "Starlark module file (overrides EV_SCRIPT_MODULE)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := framework.LoadConfig(func(c *framework.ModuleConfig) {
		if moduleFlag != "" {
			c.ModuleID = moduleFlag
		}
		if prefixFlag != "" {
			c.MainDir = prefixFlag
		}
		if confFlag != "" {
			c.ConfFile = confFlag
		}
		if scriptFlag != "" {
			c.ScriptModule = scriptFlag
		}
	})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureStateDir(); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	logger, logCloser, err := framework.SetupLogger(cfg.StateDir, cfg.ModuleID, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer logCloser.Close()
	logger.Info("Starting module", "config", cfg.Info())

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ModuleID, cfg.OTelEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", "err", err)
	}
	defer shutdownTracing(context.Background())

	db, err := framework.ConnectDB(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	defer db.Close()
	store, err := framework.NewConfigStore(ctx, db)
	if err != nil {
		return err
	}

	bus, err := framework.NewBusClient(cfg.BusSocket, cfg.ModuleID, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	module, registry, err := loadModule(cfg, logger)
	if err != nil {
		return err
	}

	adapter := pf.NewAdapter(cfg.ModuleID, module, registry, pf.WithLogger(logger))
	runtime := host.NewRuntime(bus, store, logger, cfg.CallTimeout)
	defer runtime.Close()

	ev := pf.NewTerminationEvent()
	stop := pf.NotifyOnInterrupt(ev)
	defer stop()

	return pf.Run(ctx, runtime, cfg.Settings(), adapter, ev, logger)
}

// loadModule returns the hosted module and the registry serving its commands.
func loadModule(cfg framework.ModuleConfig, logger *log.Logger) (pf.Module, *pf.Registry, error) {
	registry := pf.NewRegistry()
	if cfg.ScriptModule != "" {
		script, err := framework.LoadScriptModule(cfg.ScriptModule, logger)
		if err != nil {
			return nil, nil, err
		}
		script.Bind(registry)
		return script, registry, nil
	}
	evse := logic.New(logger)
	evse.Register(registry)
	return evse, registry, nil
}
