package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"lanxfer/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "lanxfer",
		Short:         "Share files with phones and laptops on the same network",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real environment variables take precedence.
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, cfgFile)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: lanxfer.yaml in the working directory)")
	config.RegisterFlags(root.Flags())

	root.AddCommand(
		newServeCmd(&cfgFile),
		newURLCmd(&cfgFile),
		newSendCmd(),
		newFetchCmd(),
		newListCmd(),
		newRemoveCmd(),
	)
	return root
}

// loadConfig layers defaults, the config file, LANXFER_* variables and the
// flags of cmd.
func loadConfig(cmd *cobra.Command, cfgFile string) (config.Config, error) {
	v := viper.New()
	if err := config.Bind(v, cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	if err := config.ReadFile(v, cfgFile); err != nil {
		return config.Config{}, err
	}
	return config.Load(v)
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
