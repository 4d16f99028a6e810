package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/core"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/pending"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gateway",
		Short:         "JSON-RPC gateway with routing, validation and request approval",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel == "" {
				return nil
			}
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "config file, json, yaml or toml")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "overrides the configured log level")

	root.AddCommand(newServeCmd(), newPendingCmd(), newRoutesCmd())

	return root
}

func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.SetupLogger(); err != nil {
		return nil, err
	}

	// the flag wins over the file
	if logLevel != "" {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return nil, err
		}
		logrus.SetLevel(level)
	}

	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			gateway, err := core.NewGateway(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer gateway.Close()

			logrus.Infof("serving chains %v", gateway.ChainIDs())

			return gateway.Run(cmd.Context())
		},
	}
}

func newPendingCmd() *cobra.Command {
	var chainId uint64

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect requests waiting for approval",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the persisted pending requests of a chain as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			s, err := store.Open(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("no storage configured")
			}
			if closer, ok := s.(interface{ Close() error }); ok {
				defer closer.Close()
			}

			requests := pending.New(s, core.ChainContext(chainId))
			if err := requests.Init(cmd.Context(), ""); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(requests.List())
		},
	}
	list.Flags().Uint64Var(&chainId, "chain", 1, "chain id")

	cmd.AddCommand(list)

	return cmd
}

func newRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect the configured routes",
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Build every chain and print the backend of each supported method",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			chains, err := core.BuildChains(cfg, nil)
			if err != nil {
				return err
			}

			ids := make([]uint64, 0, len(chains))
			for id := range chains {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

			out := cmd.OutOrStdout()
			for _, id := range ids {
				chain := chains[id]
				fmt.Fprintf(out, "chain %d\n", id)

				for _, method := range chain.Authenticator.Methods() {
					target, ok := chain.Dispatcher.Target(method)
					if !ok {
						target = "-"
					}
					fmt.Fprintf(out, "  %-40s %s\n", method, target)
				}
			}

			return nil
		},
	}

	cmd.AddCommand(check)

	return cmd
}
