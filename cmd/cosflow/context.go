package main

import (
	"errors"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"cosflow/internal/api"
	"cosflow/internal/config"
	"cosflow/internal/daemonrun"
	"cosflow/internal/logging"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// session is the service graph a direct command works against.
type session struct {
	*daemonrun.Components
	reports *api.ReportService
}

// withSession opens the workflow database for the duration of fn. Events
// published here reach no subscribers; only the daemon fans them out.
func (c *commandContext) withSession(fn func(*session) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if cfg == nil {
		return errors.New("configuration unavailable")
	}
	components, err := daemonrun.Build(cfg, logging.NewNop())
	if err != nil {
		return err
	}
	defer components.Close()
	return fn(&session{Components: components, reports: api.NewReportService(components.Store)})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
