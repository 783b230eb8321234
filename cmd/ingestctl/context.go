package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/ctlproto"
)

type commandContext struct {
	socketFlag *string
	configFlag *string
	jsonOutput *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(socketFlag, configFlag *string, jsonOutput *bool) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
		jsonOutput: jsonOutput,
	}
}

// JSONMode returns true when the user passed --json.
func (c *commandContext) JSONMode() bool {
	return c != nil && c.jsonOutput != nil && *c.jsonOutput
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

func (c *commandContext) socketPath() string {
	if c.socketFlag != nil {
		if trimmed := strings.TrimSpace(*c.socketFlag); trimmed != "" {
			return trimmed
		}
	}
	return c.resolveSocketPath()
}

func (c *commandContext) resolveSocketPath() string {
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil && strings.TrimSpace(cfg.Paths.SocketPath) != "" {
		return cfg.Paths.SocketPath
	}
	return defaultSocketPath()
}

// withClient dials the control socket, runs fn, and always closes the
// connection afterward, regardless of whether fn returns an error.
func (c *commandContext) withClient(fn func(*ctlproto.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient() (*ctlproto.Client, error) {
	socket := c.socketPath()
	client, err := ctlproto.Dial(socket)
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	return client, nil
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("ingestd is not running (no socket at %s); start it with: ingestd", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to ingestd: socket %s refused the connection; verify the daemon is running", socket)
	default:
		return fmt.Errorf("connect to ingestd: %w", err)
	}
}

func defaultSocketPath() string {
	cfg, _, _, err := config.Load("")
	if err == nil && strings.TrimSpace(cfg.Paths.SocketPath) != "" {
		return cfg.Paths.SocketPath
	}
	return "/tmp/ingestd.sock"
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
