// Package cli implements abusectl, the operator tool for the abuse guard.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/abuseguard/internal/config"
	"github.com/turtacn/abuseguard/internal/domain/service"
	"github.com/turtacn/abuseguard/internal/infrastructure/counterstore"
	redisconn "github.com/turtacn/abuseguard/internal/infrastructure/persistence/redis"
	"github.com/turtacn/abuseguard/pkg/logger"
)

type options struct {
	configFile string
}

// NewRootCommand builds the abusectl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "abusectl",
		Short: "Operate the abuse guard",
		Long: `abusectl inspects and adjusts a running abuse guard through its shared
configuration and counter store: clear a user's cooldowns, read the recent
event log, list effective policies and compute identity hashes.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default /etc/abuseguard/config.yaml or ./config.yaml)")

	root.AddCommand(
		newCooldownCmd(opts),
		newEventsCmd(opts),
		newPoliciesCmd(opts),
		newIdentityCmd(opts),
	)
	return root
}

// Execute runs abusectl and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *options) loadConfig() (*config.Config, error) {
	return config.NewLoader(o.configFile, logger.NewNoopLogger()).Load()
}

// openStore connects to the shared counter store. The memory backend lives
// inside the server process, so there is nothing to connect to.
func (o *options) openStore(ctx context.Context, cfg *config.Config) (service.AbuseStore, func() error, error) {
	if cfg.Store.Backend != "redis" {
		return nil, nil, fmt.Errorf("store.backend is %q; abusectl needs the redis backend", cfg.Store.Backend)
	}
	redisCfg := redisconn.Config(cfg.Redis)
	conn := redisconn.NewRedisConnection(&redisCfg, logger.NewNoopLogger())
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	store := counterstore.NewRedisCounterStore(conn,
		counterstore.EventLogConfig{MaxLen: cfg.EventLog.MaxLen, TTL: cfg.EventLog.TTL},
		nil, logger.NewNoopLogger())
	return store, conn.Close, nil
}
