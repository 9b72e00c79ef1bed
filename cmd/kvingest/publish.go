package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/kvingest"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the unpublished bulk-load files of a directory",
	Long: `Upload the bulk-load files built into a directory and not yet published,
and commit a new manifest version listing them.`,
	PreRunE: BindCommandFlags,
	RunE:    runPublish,
}

func init() {
	key := "dir"
	publishCmd.Flags().String(key, "", WrapString("directory of the bulk-load files"))
	SetupStoreFlags(publishCmd)

	_ = publishCmd.MarkFlagRequired("dir")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	dir := viper.GetString("dir")

	pending, err := kvingest.PendingFiles(dir)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return errors.New("nothing to publish")
	}

	opts, err := GetLoaderOptions()
	if err != nil {
		return err
	}
	storeOpts, err := GetStoreOptions(ctx)
	if err != nil {
		return err
	}

	loader, err := kvingest.New(dir, pending[0].Operator, append(opts, storeOpts...)...)
	if err != nil {
		return err
	}
	defer loader.Close()

	m, err := loader.Publish(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published manifest %d with %d files (%d entries)\n", m.ID, len(m.Files), m.Entries())
	return nil
}
