package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"flowrund/services/watch"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	APIURL string `yaml:"api_url"`
}

// loadConfig reads the config file if present. Flags and FLOWRUND_API
// override whatever it contains.
func loadConfig(path string) (config, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return config{}, nil
		}
		path = filepath.Join(home, ".flowctl.yaml")
		if _, err := os.Stat(path); err != nil {
			return config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

type rootOptions struct {
	configPath string
	apiURL     string
}

func (o *rootOptions) client() (*watch.Client, error) {
	apiURL := o.apiURL
	if apiURL == "" {
		apiURL = os.Getenv("FLOWRUND_API")
	}
	if apiURL == "" {
		cfg, err := loadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		apiURL = cfg.APIURL
	}
	if apiURL == "" {
		return nil, errors.New("api url is required (--api, FLOWRUND_API, or api_url in config)")
	}
	return watch.NewClient(apiURL, nil), nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "flowctl",
		Short:         "Command line client for the flowrund run API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default ~/.flowctl.yaml)")
	cmd.PersistentFlags().StringVar(&opts.apiURL, "api", "", "Base URL of the run API")

	cmd.AddCommand(newRunsCommand(opts))
	return cmd
}

func newRunsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Run lifecycle operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newRunsStartCommand(opts))
	cmd.AddCommand(newRunsGetCommand(opts))
	cmd.AddCommand(newRunsListCommand(opts))
	cmd.AddCommand(newRunsFinishCommand(opts))
	cmd.AddCommand(newRunsLogsCommand(opts))
	return cmd
}

func newRunsStartCommand(opts *rootOptions) *cobra.Command {
	var (
		flowVersion       string
		collectionVersion string
		instance          string
		payloadFile       string
		follow            bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a run, optionally following it until it finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, err := opts.client()
			if err != nil {
				return err
			}

			req := watch.StartRunRequest{}
			if req.FlowVersionID, err = uuid.Parse(flowVersion); err != nil {
				return fmt.Errorf("invalid --flow-version: %w", err)
			}
			if req.CollectionVersionID, err = uuid.Parse(collectionVersion); err != nil {
				return fmt.Errorf("invalid --collection-version: %w", err)
			}
			if instance != "" {
				id, err := uuid.Parse(instance)
				if err != nil {
					return fmt.Errorf("invalid --instance: %w", err)
				}
				req.InstanceID = &id
			}
			if payloadFile != "" {
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("read payload file: %w", err)
				}
				if err := json.Unmarshal(data, &req.Payload); err != nil {
					return fmt.Errorf("parse payload file: %w", err)
				}
			}

			if !follow {
				run, err := client.StartRun(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, run)
			}

			poller := watch.NewPoller(client, watch.NewState(), 0)
			final, err := poller.Watch(ctx, req, func(r watch.Run) {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s status=%s\n", r.ID, r.Status)
			})
			if err != nil {
				return err
			}
			for _, entry := range poller.State().Logs() {
				line, err := json.Marshal(entry)
				if err != nil {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(line))
			}
			return printJSON(cmd, final)
		},
	}

	cmd.Flags().StringVar(&flowVersion, "flow-version", "", "Flow version id to run")
	cmd.Flags().StringVar(&collectionVersion, "collection-version", "", "Collection version id to run against")
	cmd.Flags().StringVar(&instance, "instance", "", "Optional instance id")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "JSON file with the run payload")
	cmd.Flags().BoolVar(&follow, "watch", false, "Poll the run until it reaches a terminal status")
	_ = cmd.MarkFlagRequired("flow-version")
	_ = cmd.MarkFlagRequired("collection-version")
	return cmd
}

func newRunsGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Fetch a single run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, err := opts.client()
			if err != nil {
				return err
			}
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}
			run, err := client.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			return printJSON(cmd, run)
		},
	}
}

func newRunsListCommand(opts *rootOptions) *cobra.Command {
	var (
		project string
		cursor  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a project's runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, err := opts.client()
			if err != nil {
				return err
			}
			projectID, err := uuid.Parse(project)
			if err != nil {
				return fmt.Errorf("invalid --project: %w", err)
			}
			runs, page, err := client.ListRuns(ctx, projectID, cursor, limit)
			if err != nil {
				return err
			}
			for _, run := range runs {
				finished := "-"
				if run.FinishedAt != nil {
					finished = run.FinishedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
					run.ID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"), finished)
			}
			if page.Next != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "next: %s\n", page.Next)
			}
			if page.Previous != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "previous: %s\n", page.Previous)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Project id to list runs for")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Opaque page cursor from a previous list")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (server default when omitted)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newRunsFinishCommand(opts *rootOptions) *cobra.Command {
	var (
		status   string
		logsFile string
	)

	cmd := &cobra.Command{
		Use:   "finish <run-id>",
		Short: "Record a terminal status for a run, optionally uploading its logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, err := opts.client()
			if err != nil {
				return err
			}
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}

			var logsFileID *uuid.UUID
			if logsFile != "" {
				file, err := os.Open(logsFile)
				if err != nil {
					return fmt.Errorf("open logs file: %w", err)
				}
				id, err := client.UploadLogs(ctx, runID, file)
				file.Close()
				if err != nil {
					return err
				}
				logsFileID = &id
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded logs %s\n", id)
			}

			run, err := client.FinishRun(ctx, runID, strings.ToLower(status), logsFileID)
			if err != nil {
				return err
			}
			return printJSON(cmd, run)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Terminal status (succeeded, failed, stopped, ...)")
	cmd.Flags().StringVar(&logsFile, "logs", "", "NDJSON log file to compress and upload before finishing")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newRunsLogsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Download and print a run's logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			client, err := opts.client()
			if err != nil {
				return err
			}
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}
			entries, err := client.FetchLogs(ctx, runID)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				line, err := json.Marshal(entry)
				if err != nil {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(line))
			}
			return nil
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
