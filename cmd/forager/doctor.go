package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/basket/forager/internal/config"
	"github.com/basket/forager/internal/doctor"
)

var statusMarks = map[string]string{
	"PASS": "ok  ",
	"WARN": "warn",
	"FAIL": "FAIL",
	"SKIP": "skip",
}

func runDoctorCommand(ctx context.Context, args []string) int {
	asJSON := false
	for _, arg := range args {
		switch arg {
		case "-json", "--json":
			asJSON = true
		default:
			fmt.Fprintln(os.Stderr, "usage: forager doctor [-json]")
			return 2
		}
	}

	cfg, err := config.Load()
	if err != nil {
		// The config check reports the details.
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}
	diag := doctor.Run(ctx, &cfg, Version)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 1
		}
		return 0
	}
	if writeDiagnosis(os.Stdout, diag) > 0 {
		return 1
	}
	return 0
}

// writeDiagnosis prints the report and returns the number of failed checks.
func writeDiagnosis(w io.Writer, diag doctor.Diagnosis) int {
	fmt.Fprintf(w, "forager doctor %s  %s/%s %s  %s\n\n",
		diag.System.Version, diag.System.OS, diag.System.Arch, diag.System.Go,
		diag.Timestamp.Format(time.RFC3339))

	counts := map[string]int{}
	for _, res := range diag.Results {
		counts[res.Status]++
		mark, ok := statusMarks[res.Status]
		if !ok {
			mark = res.Status
		}
		fmt.Fprintf(w, "[%s] %-15s %s\n", mark, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Fprintf(w, "       %s\n", res.Detail)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d warnings, %d failed, %d skipped\n",
		counts["PASS"], counts["WARN"], counts["FAIL"], counts["SKIP"])
	return counts["FAIL"]
}
