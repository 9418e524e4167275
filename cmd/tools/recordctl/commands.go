package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-recorder/backend/internal/config"
	"github.com/zhouzirui/z-recorder/backend/internal/model/recording"
	"github.com/zhouzirui/z-recorder/backend/internal/service/catalog"
	"github.com/zhouzirui/z-recorder/backend/internal/service/fragment"
	"github.com/zhouzirui/z-recorder/backend/internal/service/merge"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List merged recordings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.Open(ctx.cfg.Storage.CatalogDB)
			if err != nil {
				return err
			}
			defer cat.Close()

			artifacts, err := cat.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(artifacts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recordings")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderArtifacts(artifacts))
			return nil
		},
	}
}

func renderArtifacts(artifacts []recording.Artifact) string {
	rows := make([][]string, 0, len(artifacts))
	for _, a := range artifacts {
		rows = append(rows, []string{
			a.Name,
			a.SessionID,
			strconv.Itoa(a.FragmentCount),
			humanize.IBytes(uint64(a.Size)),
			a.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return renderTable(
		[]string{"Name", "Session", "Fragments", "Size", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func newFragmentsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fragments [session]",
		Short: "Show retained fragments, for all sessions or one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := fragment.OpenReadOnly(ctx.cfg.Storage.ChunksDir(), ctx.cfg.Storage.Extension)
			if len(args) == 1 {
				frags, err := store.ListOrdered(args[0])
				if err != nil {
					return err
				}
				if len(frags) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No fragments for session %s\n", args[0])
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderFragments(frags))
				return nil
			}

			ids, err := store.Sessions()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No retained sessions")
				return nil
			}
			rows := make([][]string, 0, len(ids))
			for _, id := range ids {
				frags, err := store.ListOrdered(id)
				if err != nil {
					return err
				}
				var total int64
				for _, f := range frags {
					total += f.Size
				}
				rows = append(rows, []string{id, strconv.Itoa(len(frags)), humanize.IBytes(uint64(total))})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Session", "Fragments", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}

func renderFragments(frags []recording.Fragment) string {
	rows := make([][]string, 0, len(frags))
	for _, f := range frags {
		rows = append(rows, []string{strconv.Itoa(f.Sequence), f.Path, humanize.IBytes(uint64(f.Size))})
	}
	return renderTable(
		[]string{"Seq", "Path", "Size"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight},
	)
}

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var tool string
	cmd := &cobra.Command{
		Use:   "merge <session>",
		Short: "Merge a session's retained fragments (server must be stopped)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.cfg
			store, err := fragment.Open(cfg.Storage.ChunksDir(), cfg.Storage.Extension)
			if err != nil {
				return err
			}
			defer store.Close()

			cat, err := catalog.Open(cfg.Storage.CatalogDB)
			if err != nil {
				return err
			}
			defer cat.Close()

			mergeCfg := cfg.Merge
			if tool != "" {
				mergeCfg.Tool = tool
			}

			orchestrator := merge.NewOrchestrator(store, cat, concatenatorFor(mergeCfg), merge.Options{
				OutputDir:       cfg.Storage.OutputDir(),
				Extension:       cfg.Storage.Extension,
				Timeout:         cfg.Merge.Timeout,
				Concurrency:     1,
				RemoveFragments: cfg.Merge.RemoveFragmentsOnMerge,
			})
			defer func() { _ = orchestrator.Shutdown(context.Background()) }()

			mergeCtx, cancel := contextWithTimeout(cmd, cfg.Merge.Timeout)
			defer cancel()
			artifact, err := orchestrator.Merge(mergeCtx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderArtifacts([]recording.Artifact{artifact}))
			return nil
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "Override MERGE_TOOL (ffmpeg or copy)")
	return cmd
}

func concatenatorFor(cfg config.MergeConfig) merge.Concatenator {
	if cfg.Tool == config.MergeToolCopy {
		return merge.Copy{}
	}
	return merge.NewFFmpeg(cfg.FFmpegPath)
}
