package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/go-mizu/sqlmap"
)

var (
	header = color.New(color.FgCyan, color.Bold)
	faint  = color.New(color.Faint)
	label  = color.New(color.FgGreen)
)

// printRecords writes recs as a tab-aligned table. Column names come from
// the first record; an empty result prints "(0 rows)". Cells stay uncolored
// so escape codes do not skew the alignment.
func printRecords(w io.Writer, recs []sqlmap.Record) {
	if len(recs) == 0 {
		faint.Fprintln(w, "(0 rows)")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, c := range recs[0].Columns() {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, c)
	}
	fmt.Fprintln(tw)
	for _, r := range recs {
		for i, v := range r.Values() {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, formatValue(v))
		}
		fmt.Fprintln(tw)
	}
	_ = tw.Flush()
	faint.Fprintf(w, "(%d rows)\n", len(recs))
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func printStats(w io.Writer, st sqlmap.Stats) {
	label.Fprint(w, "plan cache: ")
	fmt.Fprintf(w, "size=%d hits=%d misses=%d compiles=%d evictions=%d hit-rate=%.2f\n",
		st.Size, st.Hits, st.Misses, st.Compiles, st.Evictions, st.HitRate)
}
