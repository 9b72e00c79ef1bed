package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kvingest",
		Short: "bulk ingestion for LSM key-value stores",
		Long: fmt.Sprintf(`kvingest (v%s)

Builds sorted, non-overlapping bulk-load files from unsorted input using
merge operators for u64 sets, blob maps and counters, and publishes them
to a local directory, S3 or MinIO.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kvingest",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kvingest v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(InitConfig)

	// Add Commands
	RootCmd.AddCommand(loadCmd)
	RootCmd.AddCommand(publishCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", WrapString("log level (debug, info, warn, error)"))
	key = "log-format"
	RootCmd.PersistentFlags().String(key, "text", WrapString("log format (text, json)"))
	key = "parallelism"
	RootCmd.PersistentFlags().Int(key, 0, WrapString("number of concurrent sort, build and upload workers, 0 uses all CPUs"))
	key = "memory-limit"
	RootCmd.PersistentFlags().Int64(key, 0, WrapString("memory budget for buffers in MB, 0 only tracks usage"))
	key = "io-limit"
	RootCmd.PersistentFlags().Int64(key, 0, WrapString("file IO bandwidth limit in MB/s, 0 is unlimited"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
