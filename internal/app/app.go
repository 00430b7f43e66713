// Package app is the application layer between the CLI and the storage
// service. It constructs all dependencies from config and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloudstore/internal/auth"
	"cloudstore/internal/config"
	"cloudstore/internal/database"
	"cloudstore/internal/server"
	"cloudstore/internal/staging"
	"cloudstore/internal/storage"
)

// AdminPassEnv is the environment variable holding the bootstrap admin
// password. Passwords never live in the config file.
const AdminPassEnv = "ADMIN_PASS"

// App wires the storage core, the users database, and the HTTP server.
// The caller must call Close when done.
type App struct {
	cfg     *config.Config
	users   *database.UserStore
	service *storage.Service
	uploads *storage.UploadManager
	httpSrv *http.Server
	logger  storage.Logger
	logFile *os.File
}

// NewApp creates a fully wired App from the given config.
func NewApp(cfg *config.Config) (*App, error) {
	slogger, logFile, err := newLogger(cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	users, err := database.Open(cfg.Database.Path)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening users database: %w", err)
	}
	if err := users.CheckMigrations(); err != nil {
		users.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date (run 'cloudstore migrate'): %w", err)
	}

	resolver := storage.NewResolver(cfg.Storage.MaxNameLen, cfg.Storage.MaxPathLen)
	tree, err := storage.NewTree(cfg.Storage.StorageDir, resolver)
	if err != nil {
		users.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating storage tree: %w", err)
	}

	stage, err := staging.NewArea(cfg.Storage.StagingDir)
	if err != nil {
		users.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating staging area: %w", err)
	}

	idleTimeout := time.Duration(cfg.Storage.IdleTimeoutMins) * time.Minute
	if idleTimeout <= 0 {
		idleTimeout = storage.DefaultIdleTimeout
	}
	uploads := storage.NewUploadManager(tree, stage, storage.RealClock{}, storage.UUIDGenerator{}, logger, idleTimeout)
	svc := storage.NewService(tree, uploads, logger)

	sessionTTL := time.Duration(cfg.Auth.SessionTTLMins) * time.Minute
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}
	sessions := auth.NewSessionManager(storage.RealClock{}, storage.UUIDGenerator{}, sessionTTL)

	srv := server.New(svc, users, sessions, logger, cfg.Server.MaxUploadBytes, cfg.Server.MaxChunkBytes)

	return &App{
		cfg:     cfg,
		users:   users,
		service: svc,
		uploads: uploads,
		httpSrv: &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: srv.Handler(),
		},
		logger:  logger,
		logFile: logFile,
	}, nil
}

// BootstrapAdmin ensures the configured admin account exists. The password
// comes from the ADMIN_PASS environment variable; when it is unset and the
// account is missing, bootstrap is skipped with a warning so the operator
// can create accounts via the CLI instead.
func (a *App) BootstrapAdmin() error {
	username := a.cfg.Auth.AdminUser
	if username == "" {
		return nil
	}

	existing, err := a.users.FindByUsername(username)
	if err != nil {
		return fmt.Errorf("looking up admin account: %w", err)
	}
	if existing != nil {
		return nil
	}

	pass := os.Getenv(AdminPassEnv)
	if pass == "" {
		a.logger.Warn("admin account missing and ADMIN_PASS unset, skipping bootstrap", "username", username)
		return nil
	}
	if err := auth.ValidatePassword(pass); err != nil {
		return fmt.Errorf("bootstrap admin password: %w", err)
	}

	hash, err := auth.HashPassword(pass)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}
	user, err := a.users.CreateUser(username, hash, true)
	if err != nil {
		return fmt.Errorf("creating admin account: %w", err)
	}
	a.logger.Info("admin account created", "user", user.ID, "username", username)
	return nil
}

// Run sweeps orphaned staging data, starts the idle-session reaper, and
// serves HTTP until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.uploads.SweepOrphans(); err != nil {
		a.logger.Warn("staging sweep failed", "error", err)
	}

	reaperCtx, cancelReaper := context.WithCancel(ctx)
	defer cancelReaper()
	go a.uploads.Run(reaperCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", a.httpSrv.Addr)
		errCh <- a.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		<-errCh
		return nil
	}
}

// Users exposes the account store for CLI commands.
func (a *App) Users() *database.UserStore { return a.users }

// Close releases all resources.
func (a *App) Close() error {
	var firstErr error
	if err := a.users.Close(); err != nil {
		firstErr = fmt.Errorf("closing users database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
