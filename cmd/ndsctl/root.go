package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buckyos/nds/backup/storage"
	"github.com/buckyos/nds/cfg"
	"github.com/buckyos/nds/internal/logging"
	"github.com/buckyos/nds/internal/metrics"
	"github.com/buckyos/nds/internal/ndserr"
	"github.com/buckyos/nds/ndm"
)

var (
	cfgFile string
	mgrID   string
	mgrRoot string

	configFileErr error

	config cfg.Config
	log    *zap.Logger

	registry      *ndm.Registry
	backupStorage *storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "ndsctl",
	Short: "Operate a Named Data Store process: objects, paths, chunks, backups",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFileErr != nil {
			return configFileErr
		}
		return setup()
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to the yaml config file")
	rootCmd.PersistentFlags().StringVar(&mgrID, "mgr-id", "default", "named data manager id")
	rootCmd.PersistentFlags().StringVar(&mgrRoot, "mgr-root", "./ndn_mgr", "named data manager root directory")

	rootCmd.AddCommand(chunkCmd)
	rootCmd.AddCommand(objectCmd)
	rootCmd.AddCommand(pathCmd)
	rootCmd.AddCommand(backupCmd)
}

func initConfig() {
	if cfgFile == "" {
		config = cfg.Default()
		return
	}
	loaded, err := cfg.Load(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("loading config file %q: %w", cfgFile, err)
		return
	}
	config = loaded
}

// setup builds the shared registry, backup storage, and logger once
// flags and config are known. It is idempotent so repeated subcommand
// invocations within one process (e.g. tests) can call it safely.
func setup() error {
	if log == nil {
		l, err := logging.New(logging.Options{
			Level:       config.Logging.Level,
			File:        config.Logging.File,
			Development: config.Logging.Development,
		})
		if err != nil {
			return err
		}
		log = l
	}
	if registry == nil {
		registry = ndm.NewRegistry(afero.NewOsFs(), metrics.New(prometheus.NewRegistry()))
	}
	if backupStorage == nil {
		dsn := config.Backup.StoragePath
		s, err := storage.Open(dsn)
		if err != nil {
			return err
		}
		backupStorage = s
	}
	return nil
}

func currentManager() (*ndm.Manager, error) {
	return registry.GetOrCreate(mgrID, mgrRoot)
}

// Execute runs the root command and translates any returned error into
// the process exit code ndserr.ExitCode assigns its error class.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ndserr.ExitCode(err))
	}
}
