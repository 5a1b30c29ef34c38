package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"nuha.dev/formrelay/internal/app"
	"nuha.dev/formrelay/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	var v *viper.Viper

	root := &cobra.Command{
		Use:          "formrelay",
		Short:        "Serve a static site and relay form submissions to a JSON record store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			v, err = config.New(cfgFile)
			if err != nil {
				return err
			}
			return bindFlags(v, cmd)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./formrelay.{yaml,json,toml})")
	root.PersistentFlags().String("store-path", "storage/data.json", "record store file")
	root.PersistentFlags().String("store-format", "json", "record store format: json or jsonl")
	root.PersistentFlags().String("log-level", "info", "log level")
	root.PersistentFlags().String("log-format", "console", "log format: console or json")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP front-end and the ingestion listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(v)
		},
	}
	serve.Flags().String("http-address", ":3003", "HTTP listen address")
	serve.Flags().Int("http-max-connections", 1, "connections served at once, 0 for unlimited")
	serve.Flags().Bool("http-proxy-protocol", false, "expect PROXY protocol headers on the HTTP listener")
	serve.Flags().String("ingest-address", "127.0.0.1:5005", "UDP address of the ingestion listener")
	serve.Flags().String("ingest-key-policy", "overwrite", "key collision policy: overwrite or suffix")
	serve.Flags().String("relay-address", "", "UDP address the relay sends to (default: the ingestion listener)")
	serve.Flags().String("static-root", "front-init", "static asset directory")

	records := &cobra.Command{
		Use:   "records",
		Short: "Print the stored records as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecords(v, cmd)
		},
	}

	root.AddCommand(serve, records)
	return root
}

var flagKeys = map[string]string{
	"store-path":           "store.path",
	"store-format":         "store.format",
	"log-level":            "log.level",
	"log-format":           "log.format",
	"http-address":         "http.address",
	"http-max-connections": "http.max_connections",
	"http-proxy-protocol":  "http.proxy_protocol",
	"ingest-address":       "ingest.address",
	"ingest-key-policy":    "ingest.key_policy",
	"relay-address":        "relay.address",
	"static-root":          "static.root",
}

// bindFlags lets explicitly set flags override file and env values.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func runServe(v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("unable to initialise")
		return err
	}
	if err := a.Start(); err != nil {
		logger.Error().Err(err).Msg("unable to bind listeners")
		return err
	}
	return a.Run(ctx)
}

func runRecords(v *viper.Viper, cmd *cobra.Command) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	st, err := app.NewStore(&cfg.Store)
	if err != nil {
		return err
	}
	entries, err := st.Load()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(entries)
}
