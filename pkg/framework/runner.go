package framework

import (
	"context"
	"fmt"
)

// Run hands adapter to host, then blocks until ev is set or ctx ends. The
// host drives the lifecycle from inside Init; Run only waits.
func Run(ctx context.Context, host Host, settings Settings, adapter *Adapter, ev *TerminationEvent, logger Logger) error {
	if logger == nil {
		logger = nopLogger{}
	}
	if settings.ModuleID == "" {
		return fmt.Errorf("module id must be set")
	}

	if err := host.Init(ctx, settings, adapter); err != nil {
		return fmt.Errorf("init module %s: %w", settings.ModuleID, err)
	}

	err := ev.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		err = nil
	}
	logger.Info(fmt.Sprintf("Module %s shutting down.", settings.ModuleID))
	return err
}
