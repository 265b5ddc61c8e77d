package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"tunegrab/internal/entity"
	"tunegrab/internal/extract"
	"tunegrab/internal/format"
	"tunegrab/pkg/calc"

	"github.com/spf13/cobra"
)

// formatLister is implemented by engines that can list a video's streams.
type formatLister interface {
	Formats(ctx context.Context, url string) ([]extract.FormatJSON, error)
}

var errNoFormatListing = errors.New("engine cannot list formats")

func newFormatsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "formats [url]",
		Short: "Show the selection ladder of every tier, or the audio streams of a video",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderLadders())

				return nil
			}

			a, err := newApp(cmd.Context(), flags, appOptions{logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}

			lister, ok := a.client.(formatLister)
			if !ok {
				return fmt.Errorf("%w: %s", errNoFormatListing, flags.engine)
			}

			formats, err := lister.Formats(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderFormats(formats))

			return nil
		},
	}
}

func renderLadders() string {
	var rows [][]string

	for _, tier := range entity.QualityTiers {
		for i, rule := range format.MustFor(tier) {
			rows = append(rows, []string{tier.Label(), strconv.Itoa(i + 1), rule.String()})
		}
	}

	return renderTable([]string{"Tier", "Rank", "Selector"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft})
}

// renderFormats lists audio-only streams, the ones the ladders choose from.
func renderFormats(formats []extract.FormatJSON) string {
	var rows [][]string

	for _, f := range formats {
		if !f.AudioOnly() {
			continue
		}

		size := "?"
		if n := f.Size(); n > 0 {
			size = fmt.Sprintf("%.1f MB", calc.MiB(n))
		}

		rows = append(rows, []string{f.FormatID, f.Ext, fmt.Sprintf("%.0f", f.Abr), f.Protocol, size, f.FormatNote})
	}

	return renderTable(
		[]string{"ID", "Ext", "ABR", "Protocol", "Size", "Note"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
	)
}
