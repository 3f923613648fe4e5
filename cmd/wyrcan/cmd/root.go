// Package cmd holds the wyrcan subcommands.
package cmd

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/onkernel/wyrcan/cmd/wyrcan/config"
	"github.com/onkernel/wyrcan/lib/logger"
	"github.com/onkernel/wyrcan/lib/registry"
)

// Root is the top-level wyrcan command.
var Root = &cobra.Command{
	Use:           "wyrcan",
	Short:         "The container bootloader",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// env carries the pieces every subcommand needs.
type env struct {
	cfg    config.Config
	logCfg logger.Config
	client *http.Client
}

func newEnv() *env {
	cfg := config.Load()
	return &env{
		cfg:    cfg,
		logCfg: logger.NewConfig(),
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// repository parses the reference argument with the configured client.
func (e *env) repository(name string) (*registry.Repository, string, error) {
	return registry.NewRepository(name, registry.WithClient(e.client))
}
