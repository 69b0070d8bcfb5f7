// Package plugins maps the plugin names used in configuration onto the
// bundled plugin capabilities.
package plugins

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/plugin"
	"github.com/sirosfoundation/go-service-framework/pkg/plugins/cache"
	"github.com/sirosfoundation/go-service-framework/pkg/plugins/migration"
	"github.com/sirosfoundation/go-service-framework/pkg/plugins/orm"
	"github.com/sirosfoundation/go-service-framework/pkg/plugins/pool"
)

// Plugin names accepted in plugins.required.
const (
	Cache     = "cache"
	Pool      = "pool"
	ORM       = "orm"
	Migration = "migration"
)

// dependencies lists what each plugin needs resolved before it.
var dependencies = map[string][]string{
	ORM:       {Pool},
	Migration: {ORM},
}

// Bundled returns the bundled capabilities by name. Plugins that depend on
// others resolve them through r.
func Bundled(cfg config.PluginsConfig, r *plugin.Resolver, logger *zap.Logger) map[string]plugin.Capability {
	prefer := cfg.PreferExternal
	pools := func() (pool.Manager, error) { return plugin.Required[pool.Manager](r, prefer) }
	dbs := func() (orm.Manager, error) { return plugin.Required[orm.Manager](r, prefer) }

	return map[string]plugin.Capability{
		Cache:     cache.Capability(cfg.Cache, logger),
		Pool:      pool.Capability(cfg.Pool, logger),
		ORM:       orm.Capability(cfg.ORM, pools, logger),
		Migration: migration.Capability(cfg.Migration, dbs, logger),
	}
}

// Required returns the capabilities named in cfg.Required together with
// their dependencies, dependencies first.
func Required(cfg config.PluginsConfig, r *plugin.Resolver, logger *zap.Logger) ([]plugin.Capability, error) {
	bundled := Bundled(cfg, r, logger)
	var (
		out  []plugin.Capability
		seen = make(map[string]bool)
	)
	var visit func(name string) error
	visit = func(name string) error {
		if seen[name] {
			return nil
		}
		c, ok := bundled[name]
		if !ok {
			return fmt.Errorf("unknown plugin %q", name)
		}
		seen[name] = true
		for _, dep := range dependencies[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		out = append(out, c)
		return nil
	}
	for _, name := range cfg.Required {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}
