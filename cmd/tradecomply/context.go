package main

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"tradecomply/internal/app"
	"tradecomply/internal/config"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		if err := app.ConfigureLogging(cfg.Log); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withComponents builds the pipeline for one command and closes it afterwards.
// One-shot commands register metrics on a private registry.
func (c *commandContext) withComponents(ctx context.Context, reg prometheus.Registerer, fn func(*app.Components) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	comps, err := app.Build(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer comps.Close()
	return fn(comps)
}
