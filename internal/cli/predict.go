package cli

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/vkuznet/gordo-client/client"
)

// ErrPredictionFailed is returned when any machine prediction reports errors
var ErrPredictionFailed = errors.New("predictions finished with errors")

func newPredictCommand() *cobra.Command {
	var dataProvider DataProviderParam
	cmd := &cobra.Command{
		Use:   "predict START END",
		Short: "Run predictions of served machines for [START, END)",
		Long: `Run predictions of served machines for [START, END), both in ISO 8601 format,
e.g. 2016-01-01T00:00:00Z. With --data-provider sensor data is loaded locally and
posted to the server, otherwise the server loads data itself.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseTime(args[0])
			if err != nil {
				return err
			}
			end, err := parseTime(args[1])
			if err != nil {
				return err
			}
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			dp := dataProvider.Provider
			if dp == nil && cfg.DataProvider != "" {
				if dp, err = parseDataProvider(cfg.DataProvider); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			c, err := newClient(ctx, cfg, log, func(opts *client.Options) {
				opts.DataProvider = dp
				opts.UseAnomaly = lo.ToPtr(cfg.Anomaly && !cfg.NoAnomaly)
				opts.ForwardResampledSensors = cfg.ForwardResampledSensors
				opts.NRetries = lo.ToPtr(cfg.NRetries)
				if cfg.OutputDir != "" {
					opts.Forwarder = client.DirectoryForwarder{Dir: cfg.OutputDir}
				}
			})
			if err != nil {
				return err
			}
			results, err := c.Predict(ctx, start, end, cfg.Targets, "")
			if err != nil {
				return err
			}

			failed := 0
			for _, res := range results {
				if len(res.ErrorMessages) > 0 {
					failed++
					cmd.PrintErrf("Machine %s failed: %s\n", res.Name, strings.Join(res.ErrorMessages, "; "))
					continue
				}
				rows := 0
				if res.Predictions != nil {
					rows = res.Predictions.Len()
				}
				cmd.Printf("Machine %s: %d predictions\n", res.Name, rows)
			}
			if failed > 0 {
				return errors.Wrapf(ErrPredictionFailed, "%d of %d machines", failed, len(results))
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.Var(&dataProvider, "data-provider", "data provider config as JSON or path to JSON file, e.g. '{\"type\": \"RandomDataProvider\"}'")
	flags.String("output-dir", "", "directory to write predictions into as gzip compressed CSV files")
	flags.Bool("forward-resampled-sensors", false, "forward resampled sensor data along with predictions")
	flags.Int("n-retries", client.DefaultNRetries, "number of retries of failed prediction requests")
	flags.Bool("anomaly", true, "use anomaly prediction endpoint")
	flags.Bool("no-anomaly", false, "use plain prediction endpoint")
	return cmd
}
