package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/volplayer/internal/config"
	"github.com/zsiec/volplayer/internal/geometry"
	"github.com/zsiec/volplayer/internal/health"
	"github.com/zsiec/volplayer/internal/logger"
	"github.com/zsiec/volplayer/internal/memory"
	"github.com/zsiec/volplayer/internal/playback"
	"github.com/zsiec/volplayer/internal/registry"
	"github.com/zsiec/volplayer/internal/server"
	"github.com/zsiec/volplayer/internal/ui"
	"github.com/zsiec/volplayer/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
		monitor     bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&monitor, "ui", false, "Show the terminal monitor")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	// The monitor owns the terminal; console logging would tear it.
	if monitor && (cfg.Logging.Output == "stdout" || cfg.Logging.Output == "stderr") {
		log.SetOutput(io.Discard)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting volplayer")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	if err := run(cfg, log, monitor); err != nil {
		log.WithError(err).Error("Playback failed")
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfg *config.Config, log *logrus.Logger, monitor bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	channels, err := logger.NewChannels(cfg.Logging.Channels, logger.NewLogrusSink(log))
	if err != nil {
		return fmt.Errorf("logging channels: %w", err)
	}

	var redisClient *redis.Client
	var sessions registry.Registry
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addresses[0],
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("Connected to Redis successfully")
		sessions = registry.NewRedisRegistry(redisClient,
			logger.NewLogrusAdapter(logger.WithComponent(log, "registry")), cfg.Redis.SessionTTL)
	} else {
		sessions = registry.NewMemoryRegistry()
	}
	defer sessions.Close()

	budget := memory.NewController(cfg.Memory.MaxTotal, cfg.Memory.MaxPerStream)
	store := geometry.NewStore(
		geometry.WithBudget(budget),
		geometry.WithLogger(channels.Logger(logger.ChannelGeometry)),
	)
	defer store.CloseAll()

	renderer := newStatsRenderer(channels.Logger(logger.ChannelInterface))
	player, err := playback.NewPlayer(ctx, playback.Config{
		StreamID:          cfg.Geometry.StreamID,
		HeaderPath:        cfg.Geometry.HeaderPath,
		SequencePath:      cfg.Geometry.SequencePath,
		Streaming:         cfg.Geometry.Streaming,
		VideoPath:         cfg.Video.Path,
		FlipVertical:      cfg.Video.FlipVertical,
		GeometryFrameRate: cfg.Playback.GeometryFrameRate,
		RenderRate:        cfg.Playback.RenderRate,
		Loop:              cfg.Playback.Loop,
		StatusInterval:    cfg.Playback.StatusInterval,
	}, store, renderer,
		playback.WithLogger(channels.Logger(logger.ChannelInterface)),
		playback.WithVideoLogger(channels.Logger(logger.ChannelAV)),
		playback.WithRegistry(sessions),
	)
	if err != nil {
		return fmt.Errorf("failed to start player: %w", err)
	}
	defer player.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		startMetricsServer(g, gctx, cfg.Metrics, log)
	}

	if cfg.Server.Enabled {
		srv := server.New(&cfg.Server, log, store, sessions)
		hm := srv.HealthManager()
		hm.Register(health.NewStoreChecker(store))
		hm.Register(health.NewMemoryChecker(budget, 0.9))
		if redisClient != nil {
			hm.Register(health.NewRedisChecker(redisClient, registry.ActiveSessionsKey))
		}
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	var program *tea.Program
	if monitor {
		model := ui.NewModel(player, 250*time.Millisecond)
		for _, ch := range []logger.Channel{logger.ChannelInterface, logger.ChannelGeometry, logger.ChannelAV} {
			channels.SetSink(ch, model.Sink())
		}
		program = tea.NewProgram(model, tea.WithContext(gctx))
		g.Go(func() error {
			_, err := program.Run()
			cancel()
			if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		err := player.Run(gctx)
		if program != nil {
			program.Send(ui.DoneMsg{Err: err})
		} else {
			cancel()
		}
		st := player.Status()
		log.WithFields(logrus.Fields{
			"rendered":        st.Rendered,
			"loops":           st.Loops,
			"geometry_errors": st.GeometryErrors,
			"video_errors":    st.VideoErrors,
		}).Info("Playback finished")
		return err
	})

	return g.Wait()
}

func startMetricsServer(g *errgroup.Group, ctx context.Context, cfg config.MetricsConfig, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("Starting metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
}
