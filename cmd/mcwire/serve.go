package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mcwire/internal/config"
	"mcwire/internal/console"
	"mcwire/internal/logging"
	"mcwire/internal/protocol"
	"mcwire/internal/server"
	"mcwire/internal/store"
	boltstore "mcwire/internal/store/bolt"
)

func serveCmd(rf *rootFlags) *cobra.Command {
	var (
		listen        string
		motd          string
		maxPlayers    int
		versionName   string
		noEncryption  bool
		threshold     int32
		dataDir       string
		metricsListen string
		consoleListen string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a server",
		Long: `Run a server that answers status pings and logs players in.

Logged-in players are kept in the play state until they leave or the
server shuts down. Every login is recorded in players.db under the data
directory.

With --console-listen an SSH admin console is served as well. Operators
log in with a key listed in <data-dir>/authorized_keys; the host key is
generated under <data-dir>/console on first start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rf.cfg
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Server.Listen = listen
			}
			if flags.Changed("motd") {
				cfg.Server.MOTD = motd
			}
			if flags.Changed("max-players") {
				cfg.Server.MaxPlayers = maxPlayers
			}
			if flags.Changed("protocol") {
				v, err := protocol.ParseVersion(versionName)
				if err != nil {
					return err
				}
				cfg.Server.Version = int32(v)
			}
			if noEncryption {
				cfg.Server.Encryption = false
			}
			if flags.Changed("compression-threshold") {
				cfg.Server.CompressionThreshold = threshold
			}
			if flags.Changed("data-dir") {
				cfg.Server.DataDir = config.ExpandHome(dataDir)
			}
			if flags.Changed("metrics-listen") {
				cfg.Metrics.Listen = metricsListen
			}
			if flags.Changed("console-listen") {
				cfg.Console.Listen = consoleListen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, rf)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&motd, "motd", "", "message of the day shown in the server list")
	cmd.Flags().IntVar(&maxPlayers, "max-players", 0, "maximum players in play at once (0 = unlimited)")
	cmd.Flags().StringVar(&versionName, "protocol", "", `protocol version advertised in status, e.g. "1.18" or "757"`)
	cmd.Flags().BoolVar(&noEncryption, "no-encryption", false, "skip the encryption request during login")
	cmd.Flags().Int32Var(&threshold, "compression-threshold", 0, "compress packets larger than this (negative = off)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&consoleListen, "console-listen", "", "serve the SSH admin console on this address")

	return cmd
}

func runServer(ctx context.Context, rf *rootFlags) error {
	cfg := rf.cfg
	log := logging.For("main")

	dataDir := cfg.Server.DataDir
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	db, err := boltstore.Open(filepath.Join(dataDir, "players.db"))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close()

	srv, err := server.New(server.Options{
		Listen:               cfg.Server.Listen,
		MOTD:                 cfg.Server.MOTD,
		MaxPlayers:           cfg.Server.MaxPlayers,
		Version:              protocol.Version(cfg.Server.Version),
		Encryption:           cfg.Server.Encryption,
		CompressionThreshold: cfg.Server.CompressionThreshold,
		KeepAlive:            cfg.Server.KeepAlive.Duration,
		ConnectionRate:       cfg.Server.ConnectionRate,
		Transport:            rf.transportOptions(),
		Players:              store.NewPlayers(db),
	})
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		hs := startHTTP(cfg.Metrics.Listen, srv, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			hs.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Console.Listen != "" {
		con, err := startConsole(ctx, cfg, srv)
		if err != nil {
			srv.Stop()
			return err
		}
		defer con.Stop()
	}

	log.Info("starting", "version", version, "data_dir", dataDir)
	if err := srv.Serve(ctx); err != nil {
		return err
	}
	log.Info("shut down")
	return nil
}

func startConsole(ctx context.Context, cfg *config.Config, srv *server.Server) (*console.Console, error) {
	hk, err := console.LoadHostKey(filepath.Join(cfg.Server.DataDir, "console"))
	if err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}
	con, err := console.New(cfg.Console.Listen, console.ServerAdmin{Server: srv}, hk, cfg.AuthorizedKeysPath())
	if err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}
	if err := con.Listen(); err != nil {
		return nil, err
	}
	logging.For("main").Info("console listening", "addr", con.Addr(), "fingerprint", hk.Fingerprint)
	go func() {
		if err := con.Serve(ctx); err != nil {
			logging.For("main").Error("console stopped", "err", err)
		}
	}()
	return con, nil
}

func startHTTP(addr string, srv *server.Server, log *slog.Logger) *http.Server {
	hs := &http.Server{Addr: addr, Handler: newRouter(srv), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
		}
	}()
	log.Info("http listening", "addr", addr)
	return hs
}
