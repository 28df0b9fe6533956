package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/powerfeat/pkg/config"
	"github.com/malbeclabs/powerfeat/pkg/duck"
	"github.com/malbeclabs/powerfeat/pkg/logger"
	"github.com/malbeclabs/powerfeat/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

func Run(version string) ExitCode {
	if err := newRootCmd(version).Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "featbuild",
		Short:   "Build device power features from telemetry tables.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	addSessionFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		NewSysinfoCmd().Command(),
		NewBuildCmd().Command(),
		NewInspectCmd().Command(),
	)
	return rootCmd
}

func addSessionFlags(flags *pflag.FlagSet) {
	flags.BoolP("verbose", "v", getenvBool("FEATBUILD_VERBOSE", false), "set debug logging level (env: FEATBUILD_VERBOSE)")
	flags.StringP("config", "c", getenv("FEATBUILD_CONFIG", ""), "pipeline settings YAML; built-in defaults when empty (env: FEATBUILD_CONFIG)")
	flags.String("data-dir", getenv("FEATBUILD_DATA_DIR", ""), "directory or s3:// prefix of the shared device tables (env: FEATBUILD_DATA_DIR)")
	flags.String("db", getenv("FEATBUILD_DB", ""), "DuckDB database file; in-memory when empty (env: FEATBUILD_DB)")
	flags.String("metrics-textfile", getenv("FEATBUILD_METRICS_TEXTFILE", ""), "write run metrics to this file for the node exporter textfile collector (env: FEATBUILD_METRICS_TEXTFILE)")
}

// session holds what every subcommand needs once flags are parsed.
type session struct {
	log             *slog.Logger
	settings        *config.Settings
	db              duck.DB
	s3              *duck.S3Config
	metricsTextfile string
}

// openSession loads settings, prepares S3 access for any remote location and
// opens the database. uris lists locations beyond the shared data directory.
func openSession(ctx context.Context, cmd *cobra.Command, uris ...string) (*session, error) {
	flags := cmd.Root().PersistentFlags()
	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	dataDir, err := flags.GetString("data-dir")
	if err != nil {
		return nil, fmt.Errorf("failed to get data-dir flag: %w", err)
	}
	dbPath, err := flags.GetString("db")
	if err != nil {
		return nil, fmt.Errorf("failed to get db flag: %w", err)
	}
	metricsTextfile, err := flags.GetString("metrics-textfile")
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics-textfile flag: %w", err)
	}

	log := logger.New(verbose)

	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		settings.DataDir = dataDir
	}

	outputs := append([]string{settings.DataDir}, uris...)
	s3cfg, err := duck.PrepareS3Config(ctx, log, outputs)
	if err != nil {
		return nil, err
	}
	db, err := duck.NewDB(ctx, dbPath, log, s3cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Debug("featbuild: session opened", "config", configPath, "data_dir", settings.DataDir, "db", dbPath, "s3", s3cfg != nil)

	return &session{
		log:             log,
		settings:        settings,
		db:              db,
		s3:              s3cfg,
		metricsTextfile: metricsTextfile,
	}, nil
}

// close releases the database and dumps metrics when a textfile is configured.
func (s *session) close() {
	if err := s.db.Close(); err != nil {
		s.log.Warn("featbuild: failed to close database", "error", err)
	}
	if s.metricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(s.metricsTextfile); err != nil {
		s.log.Error("featbuild: failed to write metrics", "path", s.metricsTextfile, "error", err)
	}
}
