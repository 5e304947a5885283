package host

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	ifw "moduleadapter/internal/framework"
	"moduleadapter/pkg/framework"
)

// Runtime is the host side of the adapter protocol for one module process.
// It reads the deployment files, wires the module onto the bus and drives the
// adapter callbacks in protocol order.
type Runtime struct {
	bus     Bus
	store   *ifw.ConfigStore
	logger  *log.Logger
	timeout time.Duration

	router *Router
}

var _ framework.Host = (*Runtime)(nil)

// NewRuntime returns a runtime talking over bus. store may be nil, in which
// case configuration comes straight from the runtime config file.
func NewRuntime(bus Bus, store *ifw.ConfigStore, logger *log.Logger, callTimeout time.Duration) *Runtime {
	if logger == nil {
		logger = log.Default()
	}
	return &Runtime{bus: bus, store: store, logger: logger, timeout: callTimeout}
}

// Init runs the whole setup sequence: bind, register, pre-init, init, ready.
func (rt *Runtime) Init(ctx context.Context, settings framework.Settings, cb framework.Callbacks) error {
	moduleID := settings.ModuleID

	rc, err := LoadRuntimeConfig(settings.ConfFile)
	if err != nil {
		return err
	}
	entry, err := rc.Module(moduleID)
	if err != nil {
		return err
	}
	manifest, err := LoadManifest(settings.ModulesDir, entry.Module)
	if err != nil {
		return err
	}

	rt.router = NewRouter(ctx, rt.bus, moduleID, rt.timeout, rt.logger)
	cb.BindModuleAdapter(rt.router)

	pub, provided, err := rt.provided(settings, manifest)
	if err != nil {
		return err
	}
	cmds, err := cb.RegisterCommands(pub)
	if err != nil {
		return err
	}
	rt.router.ServeCommands(cmds)

	reqs, err := rt.requirements(settings, manifest, entry, moduleID)
	if err != nil {
		return err
	}
	if err := cb.PreInit(reqs, provided); err != nil {
		return err
	}

	info := framework.ModuleInfo{
		ID:        moduleID,
		Name:      entry.Module,
		Authors:   manifest.Metadata.Authors,
		License:   manifest.Metadata.License,
		Path:      filepath.Join(settings.ModulesDir, entry.Module),
		Telemetry: manifest.EnableTelemetry,
	}
	configs, err := rt.configs(ctx, moduleID, entry, info)
	if err != nil {
		return err
	}
	if err := cb.Init(configs, info); err != nil {
		return err
	}
	return cb.Ready()
}

// Close stops routing for the module.
func (rt *Runtime) Close() {
	if rt.router != nil {
		rt.router.Close()
	}
}

func (rt *Runtime) provided(settings framework.Settings, manifest *Manifest) ([]framework.Implementation, framework.Provided, error) {
	var pub []framework.Implementation
	provided := framework.Provided{
		PubVars:   map[string]map[string]framework.PublishFunc{},
		PubErrors: map[string]framework.ErrorPublishFunc{},
	}
	for _, p := range manifest.Provides {
		iface, err := LoadInterface(settings.InterfacesDir, p.Value.Interface)
		if err != nil {
			return nil, framework.Provided{}, err
		}
		pub = append(pub, framework.Implementation{ID: p.Key, Commands: iface.Commands()})
		provided.PubErrors[p.Key] = rt.router.PublishError(p.Key)

		vars := map[string]framework.PublishFunc{}
		for _, v := range iface.Vars {
			vars[v.Key] = rt.router.PublishVar(p.Key, v.Key)
		}
		if len(vars) > 0 {
			provided.PubVars[p.Key] = vars
		}
	}
	provided.PubCmds = pub
	return pub, provided, nil
}

func (rt *Runtime) requirements(settings framework.Settings, manifest *Manifest, entry ModuleEntry, moduleID string) (framework.Requirements, error) {
	reqs := framework.Requirements{
		Vars:               map[string]map[string]framework.SubscribeFunc{},
		CallCmds:           map[string]map[string]framework.CallCommand{},
		Errors:             map[string]framework.ErrorSubscribeFunc{},
		EnableExternalMQTT: manifest.EnableExternalMQTT,
	}
	for _, r := range manifest.Requires {
		conns := entry.Connections[r.Key]
		if len(conns) == 0 {
			if r.Value.Required() {
				return framework.Requirements{}, fmt.Errorf("requirement %s of %s has no connection", r.Key, moduleID)
			}
			continue
		}
		if r.Value.MaxConnections != nil && len(conns) > *r.Value.MaxConnections {
			return framework.Requirements{}, fmt.Errorf("requirement %s of %s has %d connections, at most %d allowed", r.Key, moduleID, len(conns), *r.Value.MaxConnections)
		}
		iface, err := LoadInterface(settings.InterfacesDir, r.Value.Interface)
		if err != nil {
			return framework.Requirements{}, err
		}

		reqs.Errors[r.Key] = rt.router.SubscribeErrors(conns)
		if len(iface.Vars) > 0 {
			vars := map[string]framework.SubscribeFunc{}
			for _, v := range iface.Vars {
				vars[v.Key] = rt.router.SubscribeVar(conns, v.Key)
			}
			reqs.Vars[r.Key] = vars
		}
		if len(iface.Cmds) > 0 {
			// Calls go to the first connection.
			calls := map[string]framework.CallCommand{}
			for _, meta := range iface.Commands() {
				calls[meta.Name] = framework.CallCommand{
					Arguments: meta.Arguments,
					Call:      rt.router.CallCommand(conns[0], meta.Name),
				}
			}
			reqs.CallCmds[r.Key] = calls
		}
	}
	return reqs, nil
}

// configs syncs the runtime config file into the config store and reads the
// module configuration back from it.
func (rt *Runtime) configs(ctx context.Context, moduleID string, entry ModuleEntry, info framework.ModuleInfo) (framework.ModuleConfigs, error) {
	if rt.store == nil {
		return entry.Configs(), nil
	}
	if err := rt.store.ReplaceConfigs(ctx, moduleID, entry.Configs()); err != nil {
		return nil, err
	}
	if err := rt.store.SaveModuleInfo(ctx, info); err != nil {
		return nil, err
	}
	return rt.store.ModuleConfigs(ctx, moduleID)
}
