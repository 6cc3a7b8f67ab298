package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowlens/flowlens"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline until interrupted",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "", "node identifier (overrides config)")
	serveCmd.Flags().String("store-backend", "", "document store backend (memory, badger)")
	serveCmd.Flags().String("data-dir", "", "data directory for the badger backend")
	serveCmd.Flags().String("gateway-address", "", "engine gateway address")
	serveCmd.Flags().Bool("observability", false, "enable the health and metrics server")
	serveCmd.Flags().Int("observability-port", 0, "health and metrics server port")

	_ = viper.BindPFlag("node_id", serveCmd.Flags().Lookup("node-id"))
	_ = viper.BindPFlag("store.backend", serveCmd.Flags().Lookup("store-backend"))
	_ = viper.BindPFlag("store.data_dir", serveCmd.Flags().Lookup("data-dir"))
	_ = viper.BindPFlag("dispatch.gateway_address", serveCmd.Flags().Lookup("gateway-address"))
	_ = viper.BindPFlag("observability.enabled", serveCmd.Flags().Lookup("observability"))
	_ = viper.BindPFlag("observability.port", serveCmd.Flags().Lookup("observability-port"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	logger.Info("starting flowlens", "version", appVersion, "commit", appCommit)

	config := flowlens.DefaultConfig()
	// Config structs carry yaml tags, not mapstructure ones.
	if err := viper.Unmarshal(config, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return err
	}
	config.Logger = logger

	manager, err := flowlens.New(config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	return manager.Stop()
}
