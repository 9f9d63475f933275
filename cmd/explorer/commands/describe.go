package commands

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"

	"explorer/internal/explore"
	"explorer/internal/selector"
)

// NewDescribeCommand loads the dashboard and prints what a client would see.
func NewDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the loaded dashboard's columns and samplers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			ex, err := e.load(cmd.Context())
			if err != nil {
				return err
			}
			return describe(cmd.OutOrStdout(), ex)
		},
	}
}

func describe(w io.Writer, ex *explore.Explorer) error {
	meta := ex.Meta()
	rows := ex.SamplerRows()

	color.New(color.Bold).Fprintf(w, "%s: %d active iterations, symmetric multiplier %d, initial clustering %q\n\n",
		meta.Name, meta.ActiveDim, meta.SymMult, meta.InitialMethod)

	samplers := table.NewWriter()
	samplers.SetStyle(table.StyleLight)
	samplers.AppendHeader(table.Row{"Sampler", "Rows"})
	total := 0
	for _, name := range meta.Samplers {
		samplers.AppendRow(table.Row{name, humanize.Comma(int64(rows[name]))})
		total += rows[name]
	}
	samplers.AppendFooter(table.Row{"Total", humanize.Comma(int64(total))})
	fmt.Fprintln(w, samplers.Render())
	fmt.Fprintln(w)

	quant := make(map[string]bool, len(meta.QuantOptions))
	for _, q := range meta.QuantOptions {
		quant[q] = true
	}

	cols := table.NewWriter()
	cols.SetStyle(table.StyleLight)
	cols.AppendHeader(table.Row{"Column", "Min", "Max", "Axis start", "Axis end", "Plottable"})
	names := maps.Keys(meta.Columns)
	sort.Strings(names)
	for _, name := range names {
		b := meta.Columns[name]
		r := selector.AxisRange(b, meta.Padding)
		cols.AppendRow(table.Row{name, num(b.Min), num(b.Max), num(r.Start), num(r.End), yesNo(quant[name])})
	}
	_, err := fmt.Fprintln(w, cols.Render())
	return err
}

func num(f float64) string { return strconv.FormatFloat(f, 'g', 6, 64) }

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
