package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/99designs/keyring"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/witcopier/internal/adapters/server"
	"github.com/hylla/witcopier/internal/adapters/storage/sqlite"
	"github.com/hylla/witcopier/internal/config"
	"github.com/hylla/witcopier/internal/credential"
	"github.com/hylla/witcopier/internal/platform"
)

// version stores a package-level helper value.
var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// keyringOpener opens the credential store; tests swap in an in-memory keyring.
var keyringOpener = credential.OpenKeyring

// stdinSource feeds commands that read from standard input.
var stdinSource io.Reader = os.Stdin

// main handles main.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}

// run runs the requested command flow.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(stdinSource)
	return fang.Execute(ctx, root, fang.WithVersion(version), fang.WithoutManpage())
}

// rootOptions holds the global flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
}

// newRootCommand builds the command tree.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{appName: "witcopier", devMode: version == "dev"}
	if envDev, ok := parseBoolEnv("WITCOPIER_DEV_MODE"); ok {
		opts.devMode = envDev
	}
	if envApp := strings.TrimSpace(os.Getenv("WITCOPIER_APP_NAME")); envApp != "" {
		opts.appName = envApp
	}

	root := &cobra.Command{
		Use:   "witcopier",
		Short: "Copy removed work items into a target project",
		Long: "witcopier subscribes to work item change notifications and, when an item in the\n" +
			"source project moves to the trigger state, files a copy of it in the target project.",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", opts.appName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", opts.devMode, "use dev mode paths (<app>-dev)")

	root.AddCommand(
		newServeCommand(opts),
		newReplayCommand(opts),
		newShowCommand(opts),
		newActivityCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newSeedCommand(opts),
		newTokenCommand(opts),
		newPathsCommand(opts),
	)
	return root
}

// session carries the resolved paths, config, and logger for one command run.
type session struct {
	opts       *rootOptions
	paths      platform.Paths
	configPath string
	cfg        config.Config
	logger     *runtimeLogger
}

// resolvePaths applies the app name and dev mode to platform path lookup.
func (o *rootOptions) resolvePaths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
	})
}

// openSession loads config and configures logging for one command.
func openSession(cmd *cobra.Command, opts *rootOptions) (*session, error) {
	paths, err := opts.resolvePaths()
	if err != nil {
		return nil, err
	}

	configPath := strings.TrimSpace(opts.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("WITCOPIER_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbPath := strings.TrimSpace(opts.dbPath)
	dbOverridden := dbPath != ""
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("WITCOPIER_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}

	logger, err := newRuntimeLogger(cmd.ErrOrStderr(), opts.appName, opts.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.InstallDefault()
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}
	return &session{opts: opts, paths: paths, configPath: configPath, cfg: cfg, logger: logger}, nil
}

// Close releases the session logger.
func (s *session) Close(stderr io.Writer) {
	if err := s.logger.Close(); err != nil {
		_, _ = fmt.Fprintf(stderr, "warning: close runtime log sink: %v\n", err)
	}
}

// openRepository opens the configured sqlite database.
func (s *session) openRepository() (*sqlite.Repository, error) {
	s.logger.Debug("opening sqlite repository", "db_path", s.cfg.Database.Path)
	repo, err := sqlite.Open(s.cfg.Database.Path)
	if err != nil {
		s.logger.Error("sqlite open failed", "db_path", s.cfg.Database.Path, "err", err)
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	return repo, nil
}

// closeRepository closes repo and logs failures.
func (s *session) closeRepository(repo *sqlite.Repository) {
	if err := repo.Close(); err != nil {
		s.logger.Warn("sqlite close failed", "db_path", s.cfg.Database.Path, "err", err)
	}
}

// openKeyring opens the configured credential backends.
func (s *session) openKeyring() (keyring.Keyring, error) {
	fileDir := strings.TrimSpace(s.cfg.Credentials.FileDir)
	if fileDir == "" {
		fileDir = s.paths.KeyringDir
	}
	return keyringOpener(credential.Options{
		ServiceName: s.cfg.Credentials.KeyringService,
		Backends:    s.cfg.Credentials.Backends,
		FileDir:     fileDir,
	})
}

// withSession runs fn with an open session and logs the command lifecycle.
func withSession(cmd *cobra.Command, opts *rootOptions, fn func(*session) error) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close(cmd.ErrOrStderr())

	name := cmd.Name()
	s.logger.Debug("command flow start", "command", name)
	if err := fn(s); err != nil {
		s.logger.Error("command flow failed", "command", name, "err", err)
		return fmt.Errorf("run %s command: %w", name, err)
	}
	s.logger.Debug("command flow complete", "command", name)
	return nil
}

// parseBoolEnv parses input into a normalized form.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
