package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"benefits_fetcher/internal/api"
	"benefits_fetcher/internal/app"
	"benefits_fetcher/internal/config"
	"benefits_fetcher/internal/db"
	"benefits_fetcher/internal/logger"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "benefits",
		Short:        "Fetch partner benefit listings into MongoDB",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config")

	rootCmd.AddCommand(fetchCmd(&configPath))
	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(sourcesCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.FetcherConfig, *logger.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.NewLogger(cfg.Logging.Level), nil
}

func fetchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [source...]",
		Short: "Collect, normalize and store benefits (all enabled sources by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			fetcher, err := app.NewFetcherApp(cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := fetcher.Close(); err != nil {
					log.Warn("close failed", "error", err)
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			results, err := fetcher.Run(ctx, args)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), app.FormatSummary(results))
			return nil
		},
	}
}

func serveCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored benefits over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			mongoDB, err := db.NewMongoDB(cfg.DB, log)
			if err != nil {
				return err
			}
			defer mongoDB.Close()

			return api.NewServer(cfg, mongoDB, log).Run(cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func sourcesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			rows := [][]string{{"KEY", "NAME", "KIND", "COLLECTION", "WRITE", "ENABLED", "BASE URL"}}
			for _, key := range cfg.SourceNames() {
				src := cfg.Sources[key]
				enabled := "yes"
				if src.Disabled {
					enabled = "no"
				}
				rows = append(rows, []string{key, src.Name, src.Kind, src.Collection, string(src.WriteMode), enabled, src.BaseURL})
			}

			fmt.Fprint(cmd.OutOrStdout(), app.FormatTable(rows))
			return nil
		},
	}
}
