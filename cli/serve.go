package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"dripline/middleware"
	"dripline/routes"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var withWorkers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, and the workers when enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.serve(ctx, withWorkers || a.cfg.Worker.Start || a.cfg.IsProduction())
		},
	}

	cmd.Flags().BoolVar(&withWorkers, "workers", false, "Run the sequence and reply workers in this process")

	return cmd
}

func (a *app) serve(ctx context.Context, startWorkers bool) error {
	var storage fiber.Storage
	if a.cfg.Redis.Enabled {
		redisStorage := middleware.NewRedisStorage(a.cfg.Redis.Address, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err := redisStorage.Ping(ctx); err != nil {
			a.log.WithError(err).Warn("Redis unavailable, rate limiting falls back to memory")
			_ = redisStorage.Close()
		} else {
			storage = redisStorage
			defer redisStorage.Close()
		}
	}

	server := fiber.New(fiber.Config{
		AppName:      "dripline",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
	})
	server.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   a.cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposedHeaders:   []string{"Content-Length", "X-RateLimit-Remaining"},
		MaxAge:           3600,
	}))

	routes.SetupRoutes(server, routes.Dependencies{
		Service:          a.service,
		Worker:           a.sequences,
		JWTSecret:        a.cfg.EncryptionKey,
		RunNowLimit:      a.cfg.Worker.RunNowRateLimit,
		RateLimitStorage: storage,
		Logger:           a.log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Infof("🚀 Server starting on port %s", a.cfg.ServerPort)
		return server.Listen(":" + a.cfg.ServerPort)
	})
	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("Shutting down server...")
		return server.ShutdownWithTimeout(30 * time.Second)
	})
	if startWorkers {
		g.Go(func() error {
			return a.runWorkers(ctx)
		})
	} else {
		a.log.Info("Workers disabled; passes run only on demand")
	}

	return g.Wait()
}
