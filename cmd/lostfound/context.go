package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"lostfound/internal/apiclient"
	"lostfound/internal/config"
)

type commandContext struct {
	configFlag   *string
	apiFlag      *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, apiFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		apiFlag:      apiFlag,
		logLevelFlag: logLevelFlag,
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

func (c *commandContext) logLevel() string {
	if c.logLevelFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.logLevelFlag)
}

// client targets --api when set, otherwise the configured api_bind.
func (c *commandContext) client() (*apiclient.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	base := apiclient.BaseURL(cfg.Paths.APIBind)
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		base = strings.TrimSpace(*c.apiFlag)
	}
	return apiclient.New(base, cfg.Paths.APIToken, nil), nil
}

func (c *commandContext) withClient(fn func(*apiclient.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	return wrapClientError(fn(client))
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
