package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/api"
	"github.com/BTreeMap/MenuPipe/internal/flow"
	"github.com/BTreeMap/MenuPipe/internal/messaging"
	"github.com/BTreeMap/MenuPipe/internal/models"
	"github.com/BTreeMap/MenuPipe/internal/recovery"
	"github.com/BTreeMap/MenuPipe/internal/scheduler"
	"github.com/BTreeMap/MenuPipe/internal/store"
	"github.com/BTreeMap/MenuPipe/internal/util"
	"github.com/BTreeMap/MenuPipe/internal/whatsapp"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MenuPipe state data
	DefaultStateDir = "/var/lib/menupipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "menupipe.db"
	// DefaultWhatsAppDBFileName is the whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping MenuPipe with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "backend", *flags.backend)
	if err := run(flags); err != nil {
		slog.Error("MenuPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("MenuPipe exited successfully")
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	msgService, manager, err := buildMessagingService(flags, st)
	if err != nil {
		return err
	}
	if manager != nil {
		defer manager.Shutdown()
	}
	defer msgService.Stop()

	if err := msgService.Start(ctx); err != nil {
		return err
	}

	dispatcher := flow.NewDispatcher(st, msgService, flow.NewHTTPFetcher())
	timer := flow.NewSimpleTimer()
	defer timer.Stop()

	var reactivatorOpts []flow.ReactivatorOption
	if d := util.ParseDurationEnv("REACTIVATION_DELAY", 0); d > 0 {
		reactivatorOpts = append(reactivatorOpts, flow.WithReactivationDelay(d))
	}
	reactivator := flow.NewReactivator(st, timer, reactivatorOpts...)

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	recoveryMgr := recovery.NewManager(st, reactivator, sched)
	if err := recoveryMgr.Start(); err != nil {
		return err
	}

	engine := messaging.NewEngine(msgService, dispatcher, reactivator)
	engine.Start(ctx)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if manager != nil {
		apiOpts = append(apiOpts, api.WithConnectionManager(manager))
	}
	server := api.NewServer(msgService, st, apiOpts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
	}
	cancel()
	return nil
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	WhatsAppDSN string
	StateDir    string
	APIAddr     string
	Backend     string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput *string
	numeric  *bool
	stateDir *string
	dbDSN    *string
	waDSN    *string
	apiAddr  *string
	backend  *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("MENUPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:    os.Getenv("MENUPIPE_STATE_DIR"),
		APIAddr:     os.Getenv("API_ADDR"),
		Backend:     os.Getenv("MESSAGING_BACKEND"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MENUPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}

	if config.Backend == "" {
		config.Backend = "whatsapp"
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"MENUPIPE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"MESSAGING_BACKEND", config.Backend)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput: flag.String("qr-output", "", "path to write login QR code"),
		numeric:  flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir: flag.String("state-dir", config.StateDir, "state directory for MenuPipe data (overrides $MENUPIPE_STATE_DIR)"),
		dbDSN:    flag.String("db-dsn", config.DatabaseURL, "database DSN for the flow store (overrides $DATABASE_URL)"),
		waDSN:    flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session (overrides $WHATSAPP_DB_DSN)"),
		apiAddr:  flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		backend:  flag.String("backend", config.Backend, "messaging backend: whatsapp or twilio (overrides $MESSAGING_BACKEND)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"waDSN_set", *flags.waDSN != "",
		"apiAddr", *flags.apiAddr,
		"backend", *flags.backend)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.waDSN} {
		if strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "host=") {
			continue
		}
		stateDir := filepath.Dir(dsn)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore selects the store backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildMessagingService constructs the configured messaging backend. For the
// WhatsApp backend it also registers the connection and ensures an account
// row exists for the connected number.
func buildMessagingService(flags Flags, st store.Store) (messaging.Service, *whatsapp.ConnectionManager, error) {
	if *flags.backend == "twilio" {
		svc, err := messaging.NewTwilioService()
		if err != nil {
			return nil, nil, err
		}
		return svc, nil, nil
	}

	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.waDSN)}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}

	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, err
	}

	account, err := ensureAccount(st, client.OwnNumber())
	if err != nil {
		return nil, nil, err
	}

	manager := whatsapp.NewConnectionManager()
	if err := manager.Register(account.ID, client); err != nil {
		return nil, nil, err
	}

	return messaging.NewWhatsAppService(client), manager, nil
}

// ensureAccount looks up the account for the connected number, creating one
// on first login.
func ensureAccount(st store.Store, number string) (*models.Account, error) {
	account, err := st.GetAccountByNumber(number)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &models.Account{
			ID:              uuid.NewString(),
			ConnectedNumber: number,
			WhatsAppActive:  true,
			CreatedAt:       time.Now(),
		}
		if err := st.SaveAccount(*account); err != nil {
			return nil, err
		}
		slog.Info("Created account for connected number", "account_id", account.ID, "number", number)
		return account, nil
	}
	if err := st.SetAccountConnection(account.ID, number, true); err != nil {
		return nil, err
	}
	return account, nil
}
