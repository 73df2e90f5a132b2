package cli

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vkuznet/gordo-client/client"
	"github.com/vkuznet/gordo-client/internal/config"
	"github.com/vkuznet/gordo-client/pkg/cache"
	"github.com/vkuznet/gordo-client/pkg/logger"
)

func newClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Interact with the gordo model server of a project",
		Long: `Interact with the gordo model server of a project: fetch metadata of served
machines, download their models or run predictions.

Every flag can also be set via GORDO_ prefixed environment variables,
e.g. GORDO_PROJECT, or in gordo.yaml.`,
	}
	flags := cmd.PersistentFlags()
	flags.String("project", "", "the project to target")
	flags.StringSlice("target", nil, "targets (machine names) to use, repeatable; defaults to all served machines")
	flags.String("host", client.DefaultHost, "host the server is on")
	flags.Int("port", client.DefaultPort, "port the server is on")
	flags.String("scheme", client.DefaultScheme, "the request scheme to use, ie 'https'")
	flags.String("gordo-version", client.DefaultGordoVersion, "version of gordo API")
	flags.String("revision", "", "revision of the models to use, defaults to the latest served revision")
	flags.String("base-url", "", "server base URL, overrides scheme, host and port")
	flags.StringArray("metadata", nil, "key,value pair added to forwarded predictions, repeatable")
	flags.String("session-config", "", `session configuration as JSON, e.g. '{"headers": {"key": "value"}}'`)
	flags.Int("batch-size", client.DefaultBatchSize, "how many samples to send to the server in one request")
	flags.Int("parallelism", client.DefaultParallelism, "maximum number of machines processed concurrently")
	flags.String("cache-uri", "", "metadata cache, memory:// or redis://host:port/db")

	cmd.AddCommand(newMetadataCommand(), newDownloadModelCommand(), newPredictCommand())
	return cmd
}

// helper function to build gordo client from resolved configuration,
// update adjusts command specific options
func newClient(ctx context.Context, cfg *config.Config, log logger.Logger, update func(*client.Options)) (*client.Client, error) {
	if cfg.Project == "" {
		return nil, errors.New("project is required, use --project or GORDO_PROJECT")
	}
	session, err := client.ParseSessionConfig([]byte(cfg.SessionConfig))
	if err != nil {
		return nil, err
	}
	metadata, err := parseMetadata(cfg.Metadata)
	if err != nil {
		return nil, err
	}
	mcache, err := cache.New(cfg.CacheURI, 0)
	if err != nil {
		return nil, err
	}
	opts := client.Options{
		Project:      cfg.Project,
		Host:         cfg.Host,
		Port:         cfg.Port,
		Scheme:       cfg.Scheme,
		GordoVersion: cfg.GordoVersion,
		BaseURL:      cfg.BaseURL,
		Revision:     cfg.Revision,
		BatchSize:    cfg.BatchSize,
		Parallelism:  cfg.Parallelism,
		Metadata:     metadata,
		Session:      session,
		Cache:        mcache,
		Logger:       log,
	}
	if update != nil {
		update(&opts)
	}
	return client.New(ctx, opts)
}
