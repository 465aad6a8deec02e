package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gorenbridge/config"
	"gorenbridge/redis"
	"gorenbridge/types"
)

const (
	doneKey = "done"
	fromKey = "from"
	baseKey = "base"
)

func addressesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "addresses",
		Short: "Lists the owners with stored transfers",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return withStore(c, func(_ *config.Configuration, store *redis.Store) error {
				addresses, err := store.Addresses()
				if err != nil {
					return err
				}
				for _, address := range addresses {
					n, err := store.Count(address)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.OutOrStdout(), "%s\t%d\n", address, n)
				}
				return nil
			})
		},
	}
}

func listCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "list <address>",
		Short: "Lists the stored transfers of an owner, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  listFunc,
	}
	c.Flags().Bool(doneKey, false, "list completed transfers instead of pending ones")
	c.Flags().String(fromKey, "", "only transfers from this chain")
	return c
}

func listFunc(c *cobra.Command, args []string) error {
	done, err := c.Flags().GetBool(doneKey)
	if err != nil {
		return err
	}
	from, err := c.Flags().GetString(fromKey)
	if err != nil {
		return err
	}

	return withStore(c, func(_ *config.Configuration, store *redis.Store) error {
		txs, err := store.GetLocalTxsForAddress(args[0], redis.Filter{Done: done, From: types.Chain(from)})
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HASH\tASSET\tFROM\tTO\tAMOUNT\tCREATED")
		for _, e := range redis.SortByTimestamp(txs) {
			created := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Hash, e.Params.Asset, e.Params.From, e.Params.To, e.Params.Amount, created)
		}
		return w.Flush()
	})
}

func showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <address> <hash>",
		Short: "Prints one stored transfer as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return withStore(c, func(_ *config.Configuration, store *redis.Store) error {
				data, err := store.FindLocalTx(args[0], args[1])
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(redis.Entry{Hash: args[1], LocalTxData: *data}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(c.OutOrStdout(), string(out))
				return nil
			})
		},
	}
}

func removeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <address> <hash>",
		Short: "Deletes one stored transfer",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return withStore(c, func(_ *config.Configuration, store *redis.Store) error {
				if _, err := store.FindLocalTx(args[0], args[1]); err != nil {
					return err
				}
				return store.RemoveLocalTx(args[0], args[1])
			})
		},
	}
}

func linkCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "link <address> <hash>",
		Short: "Prints the deep link that resumes a stored transfer",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			base, err := c.Flags().GetString(baseKey)
			if err != nil {
				return err
			}
			return withStore(c, func(_ *config.Configuration, store *redis.Store) error {
				data, err := store.FindLocalTx(args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "%s?%s\n", base, types.EncodeQuery(data.Params, args[1]))
				return nil
			})
		},
	}
	c.Flags().String(baseKey, "", "URL the query string is appended to")
	return c
}
