// txctl inspects and edits the local transaction store from the command line.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gorenbridge/config"
	"gorenbridge/redis"
)

const configKey = "config"

// openStore connects to the Redis of the loaded configuration
var openStore = func(cfg *config.Configuration) (*redis.Store, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.RedisHost, cfg.Server.RedisPort)
	return redis.New(redis.NewPool(addr, cfg.Server.RedisDB), cfg.Decimals), nil
}

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "txctl",
		Short:         "Inspects the local transaction store of the bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.PersistentFlags().String(configKey, "", "YAML configuration file, defaults and environment otherwise")
	c.AddCommand(
		addressesCommand(),
		listCommand(),
		showCommand(),
		removeCommand(),
		linkCommand(),
	)
	return c
}

// withStore loads the configuration and opens the store for a subcommand
func withStore(c *cobra.Command, fn func(cfg *config.Configuration, store *redis.Store) error) error {
	path, err := c.Flags().GetString(configKey)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func main() {
	log.SetLevel(log.WarnLevel)
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
