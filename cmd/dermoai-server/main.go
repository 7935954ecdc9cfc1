package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dermoai/dermoai/internal/config"
	"github.com/dermoai/dermoai/internal/domain/practitioner"
	"github.com/dermoai/dermoai/internal/domain/teleconsultation"
	"github.com/dermoai/dermoai/internal/platform/auth"
	"github.com/dermoai/dermoai/internal/platform/db"
	"github.com/dermoai/dermoai/internal/platform/livekit"
	"github.com/dermoai/dermoai/internal/platform/middleware"
	"github.com/dermoai/dermoai/internal/platform/validate"
	"github.com/dermoai/dermoai/internal/platform/websocket"
	"github.com/dermoai/dermoai/migrations"
)

// devAuthSecret signs tokens in development when AUTH_SECRET is unset.
const devAuthSecret = "dermoai-dev-secret"

func main() {
	rootCmd := &cobra.Command{
		Use:   "dermoai-server",
		Short: "DermoAI teleconsultation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// tokenCmd signs an access token with the local secret so role-specific flows
// can be exercised against a development server.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			name, _ := cmd.Flags().GetString("name")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := issueToken(os.Getenv("AUTH_SECRET"), os.Getenv("AUTH_ISSUER"), user, role, name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "User id (uuid); a random one when empty")
	cmd.Flags().String("role", auth.RolePractitioner, "Role claim: USER, PRACTITIONER or ADMIN")
	cmd.Flags().String("name", "", "Display name claim")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func issueToken(secret, issuer, user, role, name string, ttl time.Duration) (string, error) {
	switch role {
	case auth.RoleUser, auth.RolePractitioner, auth.RoleAdmin:
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	uid := uuid.New()
	if user != "" {
		var err error
		if uid, err = uuid.Parse(user); err != nil {
			return "", fmt.Errorf("invalid user id: %w", err)
		}
	}
	return auth.NewVerifier([]byte(signingSecret(secret)), issuer).
		Issue(auth.Identity{UserID: uid, Role: role, Name: name}, ttl)
}

func signingSecret(secret string) string {
	if secret == "" {
		return devAuthSecret
	}
	return secret
}

// migrationSource returns the embedded migrations unless dir overrides them.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openMigrator(ctx context.Context, dir string) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2, MinConns: 1})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrationSource(dir)), pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			migrator, closePool, err := openMigrator(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer closePool()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			migrator, closePool, err := openMigrator(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Real-time delivery: local registry, fanned out through Redis when
	// several instances share the load.
	registry := websocket.NewRegistry(logger)
	defer registry.Close()

	var notifier teleconsultation.Notifier = registry
	var healthChecks []db.Check
	if cfg.RedisURL != "" {
		rdb, err := websocket.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()

		relay := websocket.NewRedisRelay(rdb, cfg.RelayChannel, registry, logger)
		ready := make(chan struct{})
		go func() {
			if err := relay.Run(ctx, ready); err != nil {
				logger.Error().Err(err).Msg("relay stopped")
			}
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			logger.Fatal().Msg("relay subscription timed out")
		}
		notifier = relay
		healthChecks = append(healthChecks, db.Check{Name: "redis", Ping: relay.Ping})
	}

	// Video rooms
	rooms := livekit.NewClient(livekit.Config{
		URL:        cfg.LiveKitURL,
		APIKey:     cfg.LiveKitAPIKey,
		APISecret:  cfg.LiveKitAPISecret,
		RetryCount: 2,
	})

	// Auth
	if cfg.AuthSecret == "" {
		logger.Warn().Msg("AUTH_SECRET unset, using development signing secret")
	}
	verifier := auth.NewVerifier([]byte(signingSecret(cfg.AuthSecret)), cfg.AuthIssuer)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.IsDev() && cfg.AuthSecret == "" {
		e.Use(auth.DevAuthMiddleware(verifier))
	} else {
		e.Use(auth.JWTMiddleware(verifier, auth.Skipper))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"recipients": registry.RecipientCount(),
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, healthChecks...))

	apiV1 := e.Group("/api/v1")

	practSvc := practitioner.NewService(practitioner.NewRepoPG(pool))
	practitioner.NewHandler(practSvc).RegisterRoutes(apiV1)
	presence := practitioner.NewPresence(practSvc, func(id uuid.UUID) bool {
		return registry.ConnectionCount(id) > 0
	}, logger)
	registry.SetPresenceHook(presence.Observe)
	go presence.Run(ctx)

	teleSvc := teleconsultation.NewService(
		teleconsultation.NewRepoPG(pool), practSvc, rooms, rooms, notifier, logger,
		teleconsultation.Options{
			PendingMaxAge: cfg.PendingMaxAge,
			TokenTTL:      cfg.LiveKitTokenTTL,
		},
	)
	teleconsultation.NewHandler(teleSvc).RegisterRoutes(apiV1)

	websocket.NewHandler(registry, verifier, practSvc, logger, cfg.WSSendBuffer, cfg.CORSOrigins).
		RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	registry.Close()
	presence.Flush(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}
