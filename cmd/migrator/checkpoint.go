package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/acme-corp/pg-mongo-migrator/internal/checkpoint"
	"github.com/acme-corp/pg-mongo-migrator/internal/config"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or reset the resume checkpoint",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the batch id the next run resumes from",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store := checkpoint.NewFileStore(checkpointPath())
		id, err := store.Load(cmd.Context())
		if err != nil {
			return fatal(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", store.Path(), id)
		return nil
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the checkpoint so the next run starts from batch 0",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store := checkpoint.NewFileStore(checkpointPath())
		if err := store.Clear(cmd.Context()); err != nil {
			return fatal(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", store.Path())
		return nil
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointShowCmd, checkpointClearCmd)
	rootCmd.AddCommand(checkpointCmd)
}

// checkpointPath resolves the path without validating the rest of the
// configuration, so a checkpoint can be inspected without source credentials.
func checkpointPath() string {
	v := viper.GetViper()
	config.Prepare(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("migrator")
		v.AddConfigPath(".")
	}
	_ = v.ReadInConfig()
	return v.GetString("checkpoint.path")
}
