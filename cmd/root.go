package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/s0up4200/exactonline/config"
	"github.com/s0up4200/exactonline/exact"
	"github.com/s0up4200/exactonline/filter"
	"github.com/s0up4200/exactonline/tokenstore"
)

// skipInit marks commands that run without config or a connection
const skipInit = "skip-init"

var (
	cfgFile  string
	cfg      *config.Config
	logger   zerolog.Logger
	conn     *exact.Connection
	store    tokenstore.Store
	filters  *filter.Manager
	division int

	version   = "dev"
	buildTime = "unknown"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "exactonline",
	Short: "A command line client for the Exact Online REST API",
	Long: `exactonline authenticates against Exact Online with OAuth2, keeps the
token pair up to date on disk (or in Redis) and lets you query any REST
endpoint, optionally narrowing the results with filter expressions.`,
	PersistentPreRunE: initializeApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	closeTokenStore()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// closeTokenStore releases backends holding connections, such as Redis
func closeTokenStore() {
	closer, ok := store.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Debug().Err(err).Msg("Failed to close token store")
	}
	store = nil
}

// SetVersion sets the build information reported by the version command
func SetVersion(v, built string) {
	version = v
	buildTime = built
	rootCmd.Version = fmt.Sprintf("%s (built %s)", v, built)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().IntVar(&division, "division", 0, "division to use (default from config or current/Me)")

	// Add subcommands
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(meCmd)
	rootCmd.AddCommand(divisionsCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(selfUpdateCmd)
	rootCmd.AddCommand(versionCmd)
}

// initializeApp loads the configuration and builds the connection
func initializeApp(cmd *cobra.Command, args []string) error {
	if _, ok := cmd.Annotations[skipInit]; ok {
		return nil
	}

	// Load configuration
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger = setupLogger(cfg.Logging)

	store, err = openTokenStore(cfg)
	if err != nil {
		return err
	}

	conn, err = exact.NewConnection(exact.Config{
		BaseURL:      cfg.Exact.BaseURL,
		ClientID:     cfg.Exact.ClientID,
		ClientSecret: cfg.Exact.ClientSecret,
		RedirectURL:  cfg.Exact.RedirectURL,
		Division:     cfg.Exact.Division,
	}, logger,
		exact.WithTimeout(cfg.Exact.Timeout),
		exact.WithRateLimitWait(cfg.Exact.WaitOnRateLimit),
		exact.WithErrorObserver(exact.ErrorObserverFunc(logAPIError)),
		exact.WithTokenObserver(tokenstore.Observer(store, logger)),
		exact.WithUserAgent("exactonline-cli/"+version),
	)
	if err != nil {
		return fmt.Errorf("failed to create Exact Online connection: %w", err)
	}

	// Override division from command line if specified
	if cmd.Flags().Changed("division") {
		conn.SetDivision(division)
	}

	restored, err := tokenstore.Restore(cmd.Context(), store, conn)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load stored token, continuing unauthenticated")
	} else if restored {
		logger.Debug().Msg("Loaded stored token")
	}

	filters = filter.NewManager()
	if err := filters.RegisterFilters(cfg.Filter); err != nil {
		return fmt.Errorf("invalid filter preset: %w", err)
	}

	return nil
}

// openTokenStore creates the token backend selected in the config
func openTokenStore(cfg *config.Config) (tokenstore.Store, error) {
	switch cfg.Tokens.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Tokens.Redis.Addr,
			Password: cfg.Tokens.Redis.Password,
			DB:       cfg.Tokens.Redis.DB,
		})
		logger.Debug().Str("addr", cfg.Tokens.Redis.Addr).Msg("Using Redis token store")
		return tokenstore.NewRedisStore(client, cfg.Tokens.Redis.KeyPrefix, cfg.Exact.ClientID), nil
	case "file", "":
		logger.Debug().Str("path", cfg.Tokens.File).Msg("Using file token store")
		return tokenstore.NewFileStore(cfg.Tokens.File), nil
	default:
		return nil, fmt.Errorf("unknown token backend: %s", cfg.Tokens.Backend)
	}
}

// logAPIError is the connection's error observer
func logAPIError(err error) {
	var refreshErr *exact.RefreshError
	if errors.As(err, &refreshErr) {
		logger.Warn().Err(err).Msg("Token grant failed, run 'exactonline auth login' to sign in again")
		return
	}

	var decodeErr *exact.DecodeError
	if errors.As(err, &decodeErr) {
		logger.Warn().
			Int("status", decodeErr.StatusCode).
			Str("method", decodeErr.Method).
			Str("url", decodeErr.URL).
			Msg("Exact Online returned a response that is not JSON")
		return
	}

	var apiErr *exact.APIError
	if errors.As(err, &apiErr) {
		logger.Debug().
			Int("status", apiErr.StatusCode).
			Str("method", apiErr.Method).
			Str("url", apiErr.URL).
			Str("body", apiErr.Body).
			Msg("API request failed")
		return
	}

	logger.Debug().Err(err).Msg("Request failed")
}

// setupLogger configures the zerolog logger
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Console format, colour only on a terminal
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !cfg.Color || !isatty.IsTerminal(os.Stderr.Fd()),
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

// ensureDivision looks up the current division when none was configured
func ensureDivision(ctx context.Context) error {
	if conn.Division() != 0 {
		return nil
	}
	d, err := conn.ResolveDivision(ctx)
	if err != nil {
		return fmt.Errorf("failed to determine division: %w", err)
	}
	logger.Info().Int("division", d).Msg("Using current division")
	return nil
}
