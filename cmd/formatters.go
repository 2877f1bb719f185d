package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"heritage/bootstrap"
	"heritage/config"

	"github.com/fatih/color"
)

// renderReport displays the outcome of every bootstrap attempt
func renderReport(w io.Writer, report bootstrap.Report) {
	headerColor.Fprintln(w, "BOOTSTRAP ATTEMPTS")
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%-16s %-14s %-8s %-10s %s\n", "Profile", "Stage", "Result", "Duration", "Error")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, a := range report.Attempts {
		stage := a.Stage
		if stage == "" {
			stage = "-"
		}
		fmt.Fprintf(w, "%-16s %-14s %-8s %-10s %s\n",
			a.Profile, stage, formatResult(a.Success), formatDuration(a.Duration), truncate(a.Error, 60))
	}

	fmt.Fprintln(w, strings.Repeat("=", 100))
	if report.Degraded {
		errorColor.Fprintf(w, "Degraded: serving the liveness-only %s instance\n", report.Selected)
		return
	}
	successColor.Fprintf(w, "Selected profile: %s\n", report.Selected)
}

// renderProfilesTable displays profiles in a formatted table
func renderProfilesTable(w io.Writer, profiles []config.Profile, primary string) {
	if len(profiles) == 0 {
		warningColor.Fprintln(w, "No profiles configured")
		return
	}

	headerColor.Fprintln(w, "PROFILES")
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "  %-16s %-6s %-8s %-22s %-36s\n", "Name", "Debug", "Cache", "Listen", "Database")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, p := range profiles {
		marker := " "
		if p.Name == primary {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-16s %-6s %-8s %-22s %-36s\n",
			marker, p.Name, formatBool(p.Debug), p.Cache.Type, p.Addr(), truncate(p.Database.URL, 36))
	}

	fmt.Fprintln(w, strings.Repeat("=", 100))
	infoColor.Fprintf(w, "* primary profile (%s)\n", primary)
}

// formatResult returns a colored attempt result
func formatResult(ok bool) string {
	if ok {
		return color.New(color.FgGreen).Sprint("ok")
	}
	return color.New(color.FgRed).Sprint("failed")
}

// formatBool returns a colored boolean string
func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("yes")
	}
	return "no"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
