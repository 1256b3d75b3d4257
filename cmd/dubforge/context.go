package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"dubforge/internal/config"
)

type commandContext struct {
	apiFlag    *string
	tokenFlag  *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, tokenFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		tokenFlag:  tokenFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// baseURL resolves the daemon API base URL: the --api flag wins, otherwise
// the configured bind address is assumed reachable on loopback.
func (c *commandContext) baseURL() string {
	if c.apiFlag != nil {
		if flag := strings.TrimSpace(*c.apiFlag); flag != "" {
			return strings.TrimRight(flag, "/")
		}
	}
	bind := "127.0.0.1:7519"
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		if configured := strings.TrimSpace(cfg.Paths.APIBind); configured != "" {
			bind = configured
		}
	}
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind
}

func (c *commandContext) token() string {
	if c.tokenFlag != nil {
		if flag := strings.TrimSpace(*c.tokenFlag); flag != "" {
			return flag
		}
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return strings.TrimSpace(cfg.Paths.APIToken)
	}
	return ""
}

func (c *commandContext) client() *apiClient {
	return &apiClient{
		base:  c.baseURL(),
		token: c.token(),
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// watchClient returns a client without a request timeout for endpoints that
// hold the response open.
func (c *commandContext) watchClient() *apiClient {
	return &apiClient{
		base:  c.baseURL(),
		token: c.token(),
		http:  &http.Client{},
	}
}
