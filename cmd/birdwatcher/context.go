package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"birdwatcher/internal/config"
	"birdwatcher/internal/daemon"
	"birdwatcher/internal/ipc"
	"birdwatcher/internal/logging"
	"birdwatcher/internal/pipeline"
	"birdwatcher/internal/services/vision"
	"birdwatcher/internal/store"
)

// skipConfigAnnotation marks commands that must run without a loadable config.
const skipConfigAnnotation = "skipConfigLoad"

// commandContext carries the persistent flags and the lazily loaded config
// shared by every subcommand.
type commandContext struct {
	socketFlag *string
	configFlag *string
	load       func() (*config.Config, error)
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	c := &commandContext{socketFlag: socketFlag, configFlag: configFlag}
	c.load = sync.OnceValues(func() (*config.Config, error) {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			return nil, err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		return cfg, nil
	})
	return c
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

func (c *commandContext) configPath() string { return flagValue(c.configFlag) }

func (c *commandContext) ensureConfig() (*config.Config, error) { return c.load() }

// configValue is for callers that run after PersistentPreRunE has loaded
// the config successfully.
func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.load()
	return cfg
}

func (c *commandContext) socketPath() string {
	if socket := flagValue(c.socketFlag); socket != "" {
		return socket
	}
	if cfg := c.configValue(); cfg != nil {
		return daemon.SocketPath(cfg)
	}
	return ""
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return dialError(socket, err)
	}
	defer client.Close()
	return fn(client)
}

// withStore opens the database directly. WAL mode lets the CLI read and
// queue work while the daemon holds its own connection.
func (c *commandContext) withStore(fn func(*store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(st)
}

// withService builds a pipeline service for commands that change processing
// state. The CLI never calls the vision API; the client only satisfies wiring.
func (c *commandContext) withService(fn func(*pipeline.Service, *store.Store) error) error {
	return c.withStore(func(st *store.Store) error {
		cfg := c.configValue()
		logger := logging.NewNop()
		client := vision.NewFromConfig(cfg, vision.WithLogger(logger))
		return fn(pipeline.NewService(cfg, st, client, logger), st)
	})
}

func dialError(socket string, err error) error {
	var hint string
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOENT):
		hint = "not found; start the daemon with `birdwatcher daemon`"
	case errors.Is(err, syscall.ECONNREFUSED):
		hint = "refused the connection; the daemon may have exited"
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
	return fmt.Errorf("connect to daemon: socket %s %s", socket, hint)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}
