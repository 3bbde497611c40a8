// Package main provides the fhirhub command line: one-shot conversion,
// directory watching and topic administration.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fhirhub/go-fhirhub/internal/config"
	"github.com/fhirhub/go-fhirhub/internal/conversion"
	"github.com/fhirhub/go-fhirhub/internal/converter"
	"github.com/fhirhub/go-fhirhub/internal/filewatch"
	"github.com/fhirhub/go-fhirhub/internal/hl7"
	"github.com/fhirhub/go-fhirhub/internal/infrastructure/redpanda"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "fhirhub",
		Short:         "HL7 v2.5 to FHIR R4 converter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("env-file", ".env", "Path to an optional dotenv file")

	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(topicsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [file]",
		Short: "Convert one HL7 message and print the envelope as JSON",
		Long:  "Reads the message from file, or from stdin when file is omitted or \"-\".",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			var raw []byte
			if len(args) == 0 || args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			opts := cfg.ConverterOptions()
			if v, _ := cmd.Flags().GetInt("identifier-field"); v > 0 {
				opts.IdentifierField = v
			}
			if v, _ := cmd.Flags().GetString("identifier-system"); v != "" {
				opts.IdentifierSystemBase = v
			}
			if v, _ := cmd.Flags().GetString("extension-base"); v != "" {
				opts.ExtensionBase = v
			}

			res := converter.New(opts, logger).Convert(string(raw))

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty, _ := cmd.Flags().GetBool("pretty"); pretty {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("conversion failed: %s", res.Message)
			}
			return nil
		},
	}
	cmd.Flags().Bool("pretty", true, "Indent the JSON output")
	cmd.Flags().Int("identifier-field", 0, "PID field holding patient identifiers")
	cmd.Flags().String("identifier-system", "", "Override the identifier system base URL")
	cmd.Flags().String("extension-base", "", "Override the extension base URL")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Convert HL7 files as they appear in the input directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			wcfg := filewatch.DefaultConfig(cfg.InputDir, cfg.OutputDir)
			if len(cfg.WatchExtensions) > 0 {
				wcfg.Extensions = cfg.WatchExtensions
			}
			if v, _ := cmd.Flags().GetString("in"); v != "" {
				wcfg.InputDir = v
			}
			if v, _ := cmd.Flags().GetString("out"); v != "" {
				wcfg.OutputDir = v
			}

			svc := conversion.NewService(converter.New(cfg.ConverterOptions(), logger), nil, conversion.NewLogSink(logger), nil, logger)
			w, err := filewatch.New(wcfg, svc, nil, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx)
		},
	}
	cmd.Flags().String("in", "", "Input directory (default INPUT_DIR)")
	cmd.Flags().String("out", "", "Output directory (default OUTPUT_DIR)")
	return cmd
}

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <file>...",
		Short: "Publish HL7 files to the inbound topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			pcfg := redpanda.DefaultProducerConfig()
			pcfg.Brokers = cfg.KafkaBrokers
			producer, err := redpanda.NewProducer(pcfg, nil, logger)
			if err != nil {
				return err
			}
			defer producer.Close()

			topic, _ := cmd.Flags().GetString("topic")
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				key := filepath.Base(path)
				if h, ok := hl7.ParseHeader(hl7.Split(string(raw))); ok && h.ControlID != "" {
					key = h.ControlID
				}
				if err := producer.Publish(cmd.Context(), topic, key, raw); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (key %s)\n", path, topic, key)
			}
			return nil
		},
	}
	cmd.Flags().String("topic", redpanda.TopicHL7Inbound, "Destination topic")
	return cmd
}

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage converter topics",
	}

	withAdmin := func(run func(ctx context.Context, cmd *cobra.Command, admin *redpanda.Admin) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
			if err != nil {
				return err
			}
			defer admin.Close()
			return run(cmd.Context(), cmd, admin)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create the converter topics when missing",
		RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, admin *redpanda.Admin) error {
			if err := admin.EnsureTopics(ctx); err != nil {
				return err
			}
			for _, tc := range redpanda.DefaultTopicConfigs() {
				fmt.Fprintln(cmd.OutOrStdout(), tc.Name)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List topics",
		RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, admin *redpanda.Admin) error {
			topics, err := admin.ListTopics(ctx)
			if err != nil {
				return err
			}
			for _, t := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		}),
	})

	lagCmd := &cobra.Command{
		Use:   "lag",
		Short: "Show consumer group lag per partition",
		RunE: withAdmin(func(ctx context.Context, cmd *cobra.Command, admin *redpanda.Admin) error {
			group, _ := cmd.Flags().GetString("group")
			lag, err := admin.GetConsumerGroupLag(ctx, group)
			if err != nil {
				return err
			}
			topics := make([]string, 0, len(lag))
			for t := range lag {
				topics = append(topics, t)
			}
			sort.Strings(topics)
			for _, t := range topics {
				partitions := make([]int, 0, len(lag[t]))
				for p := range lag[t] {
					partitions = append(partitions, int(p))
				}
				sort.Ints(partitions)
				for _, p := range partitions {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%d\n", t, p, lag[t][int32(p)])
				}
			}
			return nil
		}),
	}
	lagCmd.Flags().String("group", "stream-converter", "Consumer group")
	cmd.AddCommand(lagCmd)

	return cmd
}
