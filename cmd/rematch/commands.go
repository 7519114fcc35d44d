package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rematch/internal/client"
	"rematch/internal/collector"
	"rematch/internal/shared/model"
)

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <dump.json>",
		Short: "Print the function layout hash of a dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dump, err := collector.LoadDump(args[0])
			if err != nil {
				return err
			}
			hash, err := collector.LayoutHash(dump)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newUploadCmd(c *cli) *cobra.Command {
	var fileID int64
	var policy string
	cmd := &cobra.Command{
		Use:   "upload <dump.json>",
		Short: "Upload the functions of a dump as a new file version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dump, err := collector.LoadDump(args[0])
			if err != nil {
				return err
			}
			hash, err := collector.LayoutHash(dump)
			if err != nil {
				return err
			}
			api := c.api()
			fv, err := api.CreateFileVersion(ctx, fileID, hash)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !fv.NewlyCreated {
				fmt.Fprintf(out, "file version %d already uploaded\n", fv.ID)
				return nil
			}
			uploader := client.NewUploader(api, dump, fv.ID, client.UploaderOptions{
				BatchSize:  c.cfg.UploadBatchSize,
				Policy:     client.UploadErrorPolicy(policy),
				OnProgress: progressPrinter(cmd.ErrOrStderr()),
				Logger:     c.logger(),
			})
			res, err := uploader.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "file version %d: uploaded %d instances in %d batches, skipped %d\n",
				fv.ID, res.Uploaded, res.Batches, len(res.Skipped))
			return nil
		},
	}
	cmd.Flags().Int64Var(&fileID, "file", 0, "server file id")
	cmd.Flags().StringVar(&policy, "on-error", c.cfg.UploadErrorPolicy, "collection failure policy: abort | skip")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newMatchCmd(c *cli) *cobra.Command {
	var (
		fileID        int64
		targetProject int64
		targetFile    int64
		start, end    int64
		methods       []string
		policy        string
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "match <dump.json>",
		Short: "Upload a dump if needed, run a match task and print the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dump, err := collector.LoadDump(args[0])
			if err != nil {
				return err
			}
			req := client.MatchRequest{FileID: fileID, Source: dump, Methods: methods}
			if cmd.Flags().Changed("target-project") {
				req.TargetProject = &targetProject
			}
			if cmd.Flags().Changed("target-file") {
				req.TargetFile = &targetFile
			}
			if cmd.Flags().Changed("start") {
				req.SourceStart = &start
			}
			if cmd.Flags().Changed("end") {
				req.SourceEnd = &end
			}

			opts := client.OptionsFromConfig(c.cfg)
			opts.UploadPolicy = client.UploadErrorPolicy(policy)
			opts.OnProgress = progressPrinter(cmd.ErrOrStderr())
			opts.Logger = c.logger()
			sess := client.NewSession(c.api(), opts)
			defer sess.Close()

			rs, err := sess.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if task := sess.Task(); task != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "task %d %s\n", task.ID, task.Status)
			}
			return printResults(cmd.OutOrStdout(), rs, asJSON)
		},
	}
	cmd.Flags().Int64Var(&fileID, "file", 0, "server file id of the dump")
	cmd.Flags().Int64Var(&targetProject, "target-project", 0, "match against every file of a project")
	cmd.Flags().Int64Var(&targetFile, "target-file", 0, "match against a single file")
	cmd.Flags().Int64Var(&start, "start", 0, "first source function offset (inclusive)")
	cmd.Flags().Int64Var(&end, "end", 0, "last source function offset (inclusive)")
	cmd.Flags().StringSliceVar(&methods, "methods", nil, "strategies to run (default: all)")
	cmd.Flags().StringVar(&policy, "on-error", c.cfg.UploadErrorPolicy, "collection failure policy: abort | skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagsMutuallyExclusive("target-project", "target-file")
	cmd.MarkFlagsOneRequired("target-project", "target-file")
	return cmd
}

func newResultsCmd(c *cli) *cobra.Command {
	var asJSON, watch bool
	cmd := &cobra.Command{
		Use:   "results <task-id>",
		Short: "Fetch the results of a finished task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			ctx := cmd.Context()
			api := c.api()
			if watch {
				_, err := api.WatchTask(ctx, taskID, func(t *model.Task) {
					if t.ProgressMax != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "\rtask %d %s %d/%d", t.ID, t.Status, t.Progress, *t.ProgressMax)
					}
				})
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			} else {
				if _, err := client.NewPoller(api, c.cfg.PollInterval, nil).Poll(ctx, taskID); err != nil {
					return err
				}
			}
			rs, err := client.NewAssembler(api, c.cfg.PageSize, progressPrinter(cmd.ErrOrStderr())).Assemble(ctx, taskID)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), rs, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	cmd.Flags().BoolVar(&watch, "watch", false, "follow progress over WebSocket instead of polling")
	return cmd
}

func newStrategiesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the match strategies registered on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := c.api().Strategies(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVECTOR\tVERSION")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%d\n", info.Name, info.VectorType, info.VectorVersion)
			}
			return w.Flush()
		},
	}
}

// progressPrinter 在 stderr 上刷新单行进度
func progressPrinter(w io.Writer) func(client.Progress) {
	return func(p client.Progress) {
		if p.Max <= 0 {
			return
		}
		fmt.Fprintf(w, "\r%-8s %-18s %d/%d", p.Stage, p.State, p.Value, p.Max)
		if p.State.IsTerminal() {
			fmt.Fprintln(w)
		}
	}
}

func printResults(w io.Writer, rs *client.ResultSet, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rs)
	}

	locals := make([]*model.Instance, 0, len(rs.Locals))
	for _, inst := range rs.Locals {
		locals = append(locals, inst)
	}
	sort.Slice(locals, func(i, j int) bool { return locals[i].Offset < locals[j].Offset })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCAL\tREMOTE\tFILE\tTYPE\tSCORE")
	for _, local := range locals {
		for _, m := range rs.MatchesFor(local.ID) {
			remote := rs.Remotes[m.ToInstanceID]
			if remote == nil {
				continue
			}
			fmt.Fprintf(tw, "%#x\t%#x\t%d\t%s\t%.1f\n", local.Offset, remote.Offset, remote.FileID, m.Type, m.Score)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d local functions, %d remote functions, %d matches\n",
		len(rs.Locals), len(rs.Remotes), rs.MatchCount())
	return nil
}
