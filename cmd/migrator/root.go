package main

import (
	"errors"
	"io/fs"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/acme-corp/pg-mongo-migrator/internal/config"
	"github.com/acme-corp/pg-mongo-migrator/internal/logging"
)

// version is set at build time via ldflags
var version = "0.0.0"

// Process exit codes.
const (
	exitOK          = 0
	exitFatal       = 1
	exitFailures    = 2
	exitInterrupted = 130
)

var (
	configFile string
	envFile    string
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "exit status " + strconv.Itoa(e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func fatal(err error) error { return &exitError{code: exitFatal, err: err} }

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "migrator",
	Short: "Copy rows from PostgreSQL into a MongoDB collection in resumable batches",
	Long: `Copy the rows selected by a query into a document collection.

Rows are read in fixed-size batches by a bounded pool of workers. Progress is
recorded in a checkpoint file so an interrupted run resumes where it stopped;
the file is deleted once every batch has been migrated.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fatal(err)
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default is ./migrator.{yaml,json,toml})")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file with MIGRATOR_* overrides, ignored if missing")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "json", "log format: json or console")
	flags.String("checkpoint", "checkpoint.txt", "checkpoint file path")

	cobra.CheckErr(bindFlag(flags, "log.level", "log-level"))
	cobra.CheckErr(bindFlag(flags, "log.format", "log-format"))
	cobra.CheckErr(bindFlag(flags, "checkpoint.path", "checkpoint"))
}

// bindFlag points a viper key at a flag of the command being executed.
func bindFlag(flags *pflag.FlagSet, key, name string) error {
	return viper.BindPFlag(key, flags.Lookup(name))
}

// setup loads the configuration and builds the logger.
func setup() (*config.Config, logr.Logger, error) {
	cfg, err := config.Load(viper.GetViper(), configFile)
	if err != nil {
		return nil, logr.Discard(), err
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, logr.Discard(), err
	}
	return cfg, log, nil
}
