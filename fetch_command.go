package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tunegrab/internal/entity"
	"tunegrab/internal/service"
	"tunegrab/pkg/calc"

	"github.com/spf13/cobra"
)

const outFilePerm = 0o644

func newFetchCommand(flags *globalFlags) *cobra.Command {
	var (
		quality string
		outDir  string
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download the audio of one video into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := entity.ParseQualityTier(quality)
			if err != nil {
				return err
			}

			req := entity.Request{URL: args[0], Quality: tier, Attempt: 1}

			return runAcquisition(cmd, flags, outDir, req)
		},
	}

	cmd.Flags().StringVarP(&quality, "quality", "q", string(entity.QualityHigh), "Quality tier: low, medium or high")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory the audio file is written to")

	return cmd
}

func newSubsCommand(flags *globalFlags) *cobra.Command {
	var (
		lang   string
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "subs <url>",
		Short: "Download subtitles of one video as SRT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := entity.Request{URL: args[0], Subtitles: &entity.SubtitleRequest{PreferredLanguage: lang}}

			return runAcquisition(cmd, flags, outDir, req)
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Preferred language for auto-generated subtitles (default en)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory the subtitle files are written to")

	return cmd
}

func runAcquisition(cmd *cobra.Command, flags *globalFlags, outDir string, req entity.Request) error {
	ctx := cmd.Context()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	a, err := newApp(ctx, flags, appOptions{logOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}

	deliver := &fileDelivery{dir: outDir, progress: cmd.ErrOrStderr(), verbose: isTerminal(cmd.ErrOrStderr())}

	var out entity.Outcome
	if req.Subtitles != nil {
		out = a.svc.Subtitles(ctx, req, deliver)
	} else {
		out = a.svc.Audio(ctx, req, deliver)
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderOutcome(out, deliver.written))

	if !out.OK() {
		return fmt.Errorf("%s: %w", out.UserMessage, out.Reason)
	}

	return nil
}

var _ service.Deliverer = (*fileDelivery)(nil)

// fileDelivery copies artifacts into dir under their display names.
type fileDelivery struct {
	dir      string
	progress io.Writer
	verbose  bool
	written  []string
}

func (d *fileDelivery) Progress(_ context.Context, attempt, maxAttempts int) {
	if d.verbose || attempt > 1 {
		fmt.Fprintf(d.progress, "attempt %d/%d\n", attempt, maxAttempts)
	}
}

func (d *fileDelivery) Inline(_ context.Context, file entity.Artifact) error {
	return d.copy(file)
}

func (d *fileDelivery) Document(_ context.Context, file entity.Artifact) error {
	return d.copy(file)
}

func (d *fileDelivery) copy(file entity.Artifact) error {
	src, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	dest := filepath.Join(d.dir, file.DisplayName)

	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, outFilePerm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("copy to %s: %w", dest, err)
	}

	d.written = append(d.written, dest)

	return nil
}

func renderOutcome(out entity.Outcome, written []string) string {
	rows := [][]string{
		{"status", string(out.Status)},
		{"attempts", strconv.Itoa(out.Attempts)},
	}

	if out.Label != "" {
		rows = append(rows, []string{"label", out.Label})
	}

	for _, art := range out.Artifacts {
		rows = append(rows, []string{string(art.Channel), fmt.Sprintf("%s (%.1f MB)", art.DisplayName, calc.MiB(art.SizeBytes))})
	}

	if len(written) > 0 {
		rows = append(rows, []string{"written", strings.Join(written, "\n")})
	}

	if !out.OK() {
		rows = append(rows, []string{"message", out.UserMessage})
	}

	return renderTable([]string{"Field", "Value"}, rows, nil)
}
