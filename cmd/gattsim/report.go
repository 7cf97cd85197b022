package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/srg/gattsim/internal/engine"
)

// printReport lists how every characteristic of a profile was resolved.
func printReport(w io.Writer, report *engine.BuildReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHARACTERISTIC\tNAME\tBEHAVIOR\tPRESET\tREAD\tWRITE")
	for _, e := range report.Entries() {
		behavior := e.Outcome.String()
		switch e.Outcome {
		case engine.OutcomeShared:
			behavior = "shared:" + e.SharedWith
		case engine.OutcomeFailed:
			behavior = failColor.Sprint("failed")
		case engine.OutcomeNone:
			behavior = dimColor.Sprint("none")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Characteristic, e.Name, behavior, dash(e.Preset), yesNo(e.CanRead), yesNo(e.CanWrite))
	}
	_ = tw.Flush()

	for _, e := range report.Failed() {
		printStatus(w, failColor, "✗", "%s", e.Err)
	}
	fmt.Fprintln(w, dimColor.Sprint(report.String()))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
