package cli

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newMetadataCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Get metadata of served machines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := newClient(ctx, cfg, log, nil)
			if err != nil {
				return err
			}
			metadata, err := c.GetMetadata(ctx, "", cfg.Targets)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(metadata, "", "  ")
			if err != nil {
				return err
			}
			if cfg.OutputFile == "" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(cfg.OutputFile, data, 0644)
		},
	}
	cmd.Flags().String("output-file", "", "file to write metadata to, defaults to stdout")
	return cmd
}

func newDownloadModelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "download-model OUTPUT_DIR",
		Short: "Download models of served machines into OUTPUT_DIR",
		Long: `Download models of served machines. Every machine gets its own directory
OUTPUT_DIR/<machine> holding the serialized model (model.pkl) and its
metadata (metadata.json).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := newClient(ctx, cfg, log, nil)
			if err != nil {
				return err
			}
			models, err := c.DownloadModel(ctx, "", cfg.Targets)
			if err != nil {
				return err
			}
			metadata, err := c.GetMetadata(ctx, "", cfg.Targets)
			if err != nil {
				return err
			}
			for name, model := range models {
				dir := filepath.Join(args[0], name)
				if err := os.MkdirAll(dir, 0755); err != nil {
					return err
				}
				if err := os.WriteFile(filepath.Join(dir, "model.pkl"), model, 0644); err != nil {
					return errors.Wrapf(err, "unable to write model of machine %s", name)
				}
				data, err := json.MarshalIndent(metadata[name], "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0644); err != nil {
					return errors.Wrapf(err, "unable to write metadata of machine %s", name)
				}
				cmd.Printf("Writing model '%s' to '%s'\n", name, dir)
			}
			return nil
		},
	}
}
