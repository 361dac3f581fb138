package main

import (
	"fmt"
	"io"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-synth/internal/pipeline"
	"github.com/charmbracelet/lipgloss"
)

const (
	labelGenerated = "Generated"
	labelFailed    = "Failed"
	labelMirrored  = "Mirrored"
	outFmtLine     = "%s %s\n"
	outFmtFailure  = "%s %s: %v\n"
	outFmtSummary  = "%d succeeded, %d failed\n"
)

// reportStyles colors the terminal summary. Styles render as plain text when
// stdout is not a terminal.
type reportStyles struct {
	ok   lipgloss.Style
	fail lipgloss.Style
	dim  lipgloss.Style
}

func newReportStyles() reportStyles {
	return reportStyles{
		ok:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
		fail: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f")),
		dim:  lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
	}
}

// report writes one line per result to the log and stdout, then the totals.
func report(log *logger.Logger, stdout io.Writer, summary pipeline.Summary) {
	styles := newReportStyles()

	for _, result := range summary.Results {
		path := result.Request.OutputPath

		if result.Err != nil {
			log.Error(logFmtResultFailed, path, result.Err, result.Reclaim)
			fmt.Fprintf(stdout, outFmtFailure, styles.fail.Render(labelFailed), path, result.Err)

			continue
		}

		log.Info(logFmtResult, path, result.Audio, result.Duration, result.Reclaim)
		fmt.Fprintf(stdout, outFmtLine, styles.ok.Render(labelGenerated), path)

		switch {
		case result.MirrorErr != nil:
			log.Warn(logFmtMirrorFailed, path, result.MirrorErr)
		case result.MirrorKey != "":
			fmt.Fprintf(stdout, outFmtLine, styles.dim.Render(labelMirrored), result.MirrorKey)
		}
	}

	if summary.Err != nil {
		log.Warn("Run stopped early: %v", summary.Err)
	}

	fmt.Fprintf(stdout, outFmtSummary, summary.Succeeded, summary.Failed)
}
