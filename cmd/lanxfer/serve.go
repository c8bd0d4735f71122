package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lanxfer/internal/config"
	"lanxfer/internal/httpserver"
	"lanxfer/internal/netaddr"
	"lanxfer/internal/store"
)

func newServeCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload directory (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *cfgFile)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command, cfgFile string) error {
	cfg, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	st, err := store.New(cfg.UploadDir, store.Options{MaxBytes: cfg.MaxUploadBytes, Logger: logger})
	if err != nil {
		return fmt.Errorf("open upload dir: %w", err)
	}
	// nothing is in flight yet, so every temp file is left over from a crash
	if n, err := st.Sweep(0); err != nil {
		logger.Warn("sweep temp files", "error", err)
	} else if n > 0 {
		logger.Info("removed interrupted uploads", "count", n)
	}

	baseURL, err := netaddr.BaseURL(netaddr.NewResolver(), cfg.AdvertiseURL, cfg.Host, cfg.Port)
	if err != nil {
		return err
	}
	srv, err := httpserver.New(httpserver.Options{
		Config:  cfg,
		Store:   st,
		BaseURL: baseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, banner(baseURL, st.Root(), cfg))
	if cfg.QR {
		printQR(out, baseURL)
	}
	logger.Info("listening", "addr", ln.Addr().String(), "url", baseURL, "root", st.Root())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx, ln)
}

func newURLCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Print the URL other devices should open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *cfgFile)
			if err != nil {
				return err
			}
			baseURL, err := netaddr.BaseURL(netaddr.NewResolver(), cfg.AdvertiseURL, cfg.Host, cfg.Port)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), baseURL)
			if cfg.QR && cmd.Flags().Changed("qr") {
				printQR(cmd.OutOrStdout(), baseURL)
			}
			return nil
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}
