package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tunogya/fractal/pkg/explain"
	"github.com/tunogya/fractal/pkg/model"
	"github.com/tunogya/fractal/pkg/rerank"
)

func pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v*100)
}

func writeMatchTable(w io.Writer, resp *model.MatchResponse) {
	p := resp.Pattern
	fmt.Fprintf(w, "%s %s w=%d %s  %s .. %s\n", resp.Symbol, p.Timeframe, p.WindowLen, p.Representation,
		p.StartTimestamp.Format(time.DateOnly), p.EndTimestamp.Format(time.DateOnly))

	if !resp.OK {
		fmt.Fprintf(w, "no result: %s\n", resp.Reason)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tEND\tSIMILARITY\tAGE WEIGHT\tSCORE\tRETURN\tMAX DD")
	for _, m := range resp.Matches {
		ret, dd := "-", "-"
		if m.Outcome != nil {
			ret, dd = pct(m.Outcome.Return), pct(m.Outcome.MaxDrawdown)
		}
		fmt.Fprintf(tw, "%d\t%s\t%.4f\t%.3f\t%.4f\t%s\t%s\n",
			m.Rank, m.EndTimestamp.Format(time.DateOnly), m.Similarity, m.AgeWeight, m.Score, ret, dd)
	}
	tw.Flush()

	s := resp.ForwardStats
	fmt.Fprintf(w, "\n%dd return  p10 %s  p50 %s  p90 %s  mean %s\n", s.HorizonDays,
		pct(s.Return.P10), pct(s.Return.P50), pct(s.Return.P90), pct(s.Return.Mean))
	fmt.Fprintf(w, "%dd max dd   p10 %s  p50 %s  p90 %s\n", s.HorizonDays,
		pct(s.MaxDrawdown.P10), pct(s.MaxDrawdown.P50), pct(s.MaxDrawdown.P90))
	fmt.Fprintf(w, "samples %d  stability %.2f\n", resp.Confidence.SampleSize, resp.Confidence.StabilityScore)
	for _, note := range resp.Safety.Notes {
		fmt.Fprintf(w, "note: %s\n", note)
	}
}

func writeExplanation(w io.Writer, e *explain.Explanation) {
	fmt.Fprintf(w, "\nregime %s  confidence %s  agreement %.0f%%\n", e.Regime.Tag, e.ConfidenceLabel, e.RegimeAgreement*100)
	fmt.Fprintln(w, e.Summary)
	if len(e.Caveats) > 0 {
		fmt.Fprintf(w, "caveats:\n  - %s\n", strings.Join(e.Caveats, "\n  - "))
	}
}

func writeSimilarTable(w io.Writer, ranked []rerank.RankedResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tWINDOW\tEND\tSIMILARITY\tAGE WEIGHT\tSCORE")
	for i, r := range ranked {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.4f\t%.3f\t%.4f\n",
			i+1, r.Key, r.TEnd.Format(time.DateOnly), r.Similarity, r.TimeWeight, r.FinalScore)
	}
	tw.Flush()
}
