package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/discovery"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/server"
	"github.com/BioHazard786/Warpcall/internal/version"
)

var opts config.ServerOptions

var rootCmd = &cobra.Command{
	Use:     "warpcall-server",
	Short:   "Signaling server for warpcall rooms",
	Version: version.Version,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(opts)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func run(ctx context.Context, cfg *config.Server) error {
	gin.SetMode(gin.ReleaseMode)
	srv := server.New(cfg)

	if cfg.Advertise {
		port, err := cfg.Port()
		if err != nil {
			return err
		}
		ad, err := discovery.Advertise(cfg.InstanceName, port, nil)
		if err != nil {
			// The server is still reachable by address.
			slog.Warn("mdns advertisement failed", "error", err)
		} else {
			defer ad.Shutdown()
		}
	}

	slog.Info("starting signaling server", "addr", cfg.Addr, "version", version.Version)
	return srv.ListenAndServe(ctx)
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.Addr, "addr", "", "Listen address (default :8080, or :$PORT)")
	f.DurationVar(&opts.SweepInterval, "sweep-interval", 0, "How often empty rooms are removed")
	f.BoolVar(&opts.Advertise, "mdns", false, "Advertise the server on the local network")
	f.StringVar(&opts.InstanceName, "name", "", "mDNS instance name")
}

func main() {
	logging.Init(slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceUsage = true
	start := time.Now()
	err := rootCmd.ExecuteContext(ctx)
	slog.Info("signaling server stopped", "uptime", time.Since(start).Round(time.Second))
	if err != nil {
		slog.Error("server failed", "error", err)
		stop()
		os.Exit(1)
	}
}
