package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/ysm446/sd-to-wan-prompt/internal/download"
	"github.com/ysm446/sd-to-wan-prompt/internal/sdmeta"
)

func newPresetsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List catalog presets and whether they are downloaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := buildManager(opts.cfg, opts.log)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tRAM\tVRAM\tDOWNLOADED\tNAME")
			for _, p := range mgr.ListPresets() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", p.ID, p.Kind, megabytes(p.RAMMB), megabytes(p.VRAMMB), p.Downloaded, p.DisplayName)
			}
			return tw.Flush()
		},
	}
}

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "download <preset>",
		Short:   "Download a preset into the model store",
		Example: "  wanpromptd download qwen2.5-vl-7b\n  wanpromptd download qwen2.5-vl-7b --force",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := buildManager(opts.cfg, opts.log)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			errOut := cmd.ErrOrStderr()
			rec, err := mgr.Download(ctx, args[0], force, func(p download.Progress) {
				fmt.Fprintf(errOut, "\r%5.1f%%  %s / %s  files %d/%d  %s", p.Percent(),
					units.HumanSize(float64(p.Completed)), units.HumanSize(float64(p.Total)), p.FilesDone, p.FilesTotal, p.File)
			})
			fmt.Fprintln(errOut)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "%s: %s (%s)\n", rec.PresetID, rec.Path, rec.HumanSize())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Remove any local copy and download again")
	return cmd
}

func newArtifactsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List local model artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := buildManager(opts.cfg, opts.log)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(opts.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRESET\tLAYOUT\tSIZE\tFILES\tCOMPLETE\tPATH")
			for _, a := range mgr.ListArtifacts() {
				complete := fmt.Sprint(a.Complete)
				if a.Invalidated != "" {
					complete = "invalid: " + a.Invalidated
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", a.PresetID, a.Layout, a.Size, a.Files, complete, a.Path)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <preset>",
		Short: "Remove a local artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := buildManager(opts.cfg, opts.log)
			if err != nil {
				return err
			}
			if err := mgr.RemoveArtifact(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "removed %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newRescanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rescan",
		Short: "Re-verify local artifacts against the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := buildManager(opts.cfg, opts.log)
			if err != nil {
				return err
			}
			if err := mgr.Rescan(); err != nil {
				return err
			}
			n := 0
			for _, a := range mgr.ListArtifacts() {
				if a.Complete && a.Invalidated == "" {
					n++
				}
			}
			fmt.Fprintf(opts.out, "%d usable artifact(s)\n", n)
			return nil
		},
	}
}

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the model store and backend runtimes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := buildManager(opts.cfg, opts.log)
			if err != nil {
				return err
			}
			rep := mgr.SanityCheck(cmd.Context())
			fmt.Fprintf(opts.out, "store %s writable=%t\n", rep.StoreRoot, rep.StoreWritable)
			for _, r := range rep.Runtimes {
				status := "ok"
				if !r.OK {
					status = r.Error
				}
				fmt.Fprintf(opts.out, "runtime %-10s %s\n", r.Kind, status)
			}
			if !rep.OK() {
				return fmt.Errorf("doctor: no usable runtime or store")
			}
			return nil
		},
	}
}

func newMetadataCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata <image.png>",
		Short: "Print the Stable Diffusion metadata embedded in a PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			meta, err := sdmeta.Extract(f)
			if err != nil {
				return err
			}
			if meta == nil {
				fmt.Fprintln(opts.out, "no metadata")
				return nil
			}
			enc := json.NewEncoder(opts.out)
			enc.SetIndent("", "  ")
			return enc.Encode(meta)
		},
	}
}

func megabytes(mb int) string {
	if mb <= 0 {
		return "-"
	}
	return units.BytesSize(float64(mb) * units.MiB)
}
