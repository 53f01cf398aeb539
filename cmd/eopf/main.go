// Command eopf inspects, validates and converts EO products stored in
// any of the registered storage backends.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CSC-DPR/eopf-cpm-sub000/config"
	"github.com/CSC-DPR/eopf-cpm-sub000/darray"
	"github.com/CSC-DPR/eopf-cpm-sub000/product"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
	"github.com/CSC-DPR/eopf-cpm-sub000/store/factory"
	"github.com/CSC-DPR/eopf-cpm-sub000/store/redisstore"
)

var rootCmd = &cobra.Command{
	Use:   "eopf",
	Short: "EOPF - harmonized EO product toolkit",
	Long: `EOPF manages harmonized Earth-observation products: hierarchical
trees of groups and multi-dimensional variables stored in zarr, netCDF,
SQLite, Redis or in-memory backends.`,
}

var treeCmd = &cobra.Command{
	Use:   "tree <url>",
	Short: "Render the hierarchy of a stored product",
	Args:  cobra.ExactArgs(1),
	RunE:  runTree,
}

var validateCmd = &cobra.Command{
	Use:   "validate <url>",
	Short: "Check the structural contract of a stored product",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var convertCmd = &cobra.Command{
	Use:   "convert <src-url> <dst-url>",
	Short: "Copy a product between storage backends",
	Args:  cobra.ExactArgs(2),
	RunE:  runConvert,
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the registered storage backends",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range factory.Default().Formats() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the EOPF configuration and display the loaded settings",
	RunE:  runConfigValidate,
}

var configFilePath string

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", "", "Path to configuration file")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(treeCmd, validateCmd, convertCmd, formatsCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// setup loads the configuration and builds the logger and mapping
// factory shared by all commands.
func setup() (config.AppConfig, *zap.Logger, *factory.MappingFactory, error) {
	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		return config.AppConfig{}, nil, nil, err
	}
	logger, err := initializeLogger(cfg.Log)
	if err != nil {
		return config.AppConfig{}, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	darray.DefaultChunkSize = cfg.Array.ChunkSize

	// Rebuild the redis registration with the configured key prefix.
	factory.Default().Register("redis",
		func(url string) store.Store {
			return redisstore.New(url,
				redisstore.WithPrefix(cfg.Store.RedisPrefix),
				redisstore.WithLogger(logger))
		},
		redisstore.GuessCanRead)

	mappings := factory.NewMappingFactory(logger)
	if _, err := os.Stat(cfg.Mappings.Dir); err == nil {
		if err := mappings.LoadDir(cfg.Mappings.Dir); err != nil {
			logger.Warn("failed to load mapping directory",
				zap.String("dir", cfg.Mappings.Dir), zap.Error(err))
		}
	}
	return cfg, logger, mappings, nil
}

func openProduct(ctx context.Context, url string, cfg config.AppConfig, logger *zap.Logger, mappings *factory.MappingFactory) (*product.EOProduct, error) {
	st, err := factory.StoreFor(url, cfg.Store.DefaultFormat)
	if err != nil {
		return nil, err
	}
	p := product.New(url,
		product.WithStore(st),
		product.WithStoreResolver(factory.Default().Resolver()),
		product.WithMappingResolver(mappings),
		product.WithLogger(logger))
	if err := p.Open(ctx, store.ModeRead); err != nil {
		return nil, err
	}
	return p, nil
}

func runTree(cmd *cobra.Command, args []string) error {
	cfg, logger, mappings, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	p, err := openProduct(cmd.Context(), args[0], cfg, logger, mappings)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Load(); err != nil {
		return fmt.Errorf("loading product: %w", err)
	}
	p.Tree(cmd.OutOrStdout())
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, logger, mappings, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	p, err := openProduct(cmd.Context(), args[0], cfg, logger, mappings)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: valid product (type %q)\n", args[0], p.Type())
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, logger, mappings, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	src, err := openProduct(cmd.Context(), args[0], cfg, logger, mappings)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := src.Load(); err != nil {
		return fmt.Errorf("loading source product: %w", err)
	}

	dst, err := factory.StoreFor(args[1], cfg.Store.DefaultFormat)
	if err != nil {
		return err
	}
	if err := dst.Open(cmd.Context(), store.ModeWrite); err != nil {
		return err
	}
	defer dst.Close()

	// Detach from the source store and persist the loaded tree.
	srcStore := src.Store()
	src.SetStore(dst)
	defer src.SetStore(srcStore)
	if err := src.Write(); err != nil {
		return fmt.Errorf("writing destination product: %w", err)
	}

	logger.Info("product converted",
		zap.String("src", args[0]), zap.String("dst", args[1]))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration is valid:")
	fmt.Fprintf(out, "  log.level:            %s\n", cfg.Log.Level)
	fmt.Fprintf(out, "  log.format:           %s\n", cfg.Log.Format)
	fmt.Fprintf(out, "  store.default_format: %s\n", cfg.Store.DefaultFormat)
	fmt.Fprintf(out, "  mappings.dir:         %s\n", cfg.Mappings.Dir)
	fmt.Fprintf(out, "  array.chunk_size:     %d\n", cfg.Array.ChunkSize)
	return nil
}

// initializeLogger creates a zap logger based on configuration
func initializeLogger(logCfg config.LogConfig) (*zap.Logger, error) {
	var cfg zap.Config

	if logCfg.Format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	switch logCfg.Level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
