package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/labnex/internal/models"
)

// formatRun formats a run and its case results as markdown
func formatRun(run *models.Run) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Run %s\n\n", run.ID))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", run.Status))
	if run.ProjectRef != "" {
		sb.WriteString(fmt.Sprintf("**Project:** %s\n", run.ProjectRef))
	}
	if run.Config.Environment != "" {
		sb.WriteString(fmt.Sprintf("**Environment:** %s\n", run.Config.Environment))
	}
	sb.WriteString(fmt.Sprintf("**Results:** %d passed, %d failed, %d pending of %d\n",
		run.Results.Passed, run.Results.Failed, run.Results.Pending, run.Results.Total))
	if run.Results.DurationMs > 0 {
		sb.WriteString(fmt.Sprintf("**Duration:** %s\n", time.Duration(run.Results.DurationMs)*time.Millisecond))
	}
	sb.WriteString(fmt.Sprintf("**Created:** %s\n", run.CreatedAt.Format(time.RFC3339)))
	if run.Error != "" {
		sb.WriteString(fmt.Sprintf("**Error:** %s\n", run.Error))
	}

	ids := make([]string, 0, len(run.CaseResults))
	for id := range run.CaseResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) > 0 {
		sb.WriteString("\n## Cases\n\n")
	}
	for _, id := range ids {
		entry := run.CaseResults[id]
		if entry.Pending || entry.Result == nil {
			sb.WriteString(fmt.Sprintf("- %s: pending\n", id))
			continue
		}
		result := entry.Result
		sb.WriteString(fmt.Sprintf("- %s: **%s** (%dms)", id, result.Status, result.DurationMs))
		if !result.Passed() {
			sb.WriteString(fmt.Sprintf(" [%s] %s", result.ErrorKind, result.Error))
			if result.FailedStep >= 0 {
				sb.WriteString(fmt.Sprintf(" at step %d", result.FailedStep+1))
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatRunList formats a list of runs as a markdown table
func formatRunList(runs []*models.Run) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Runs (%d)\n\n", len(runs)))

	if len(runs) == 0 {
		sb.WriteString("No runs found.\n")
		return sb.String()
	}

	sb.WriteString("| ID | Project | Status | Passed | Failed | Pending | Created |\n")
	sb.WriteString("|---|---|---|---|---|---|---|\n")
	for _, run := range runs {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d | %d | %s |\n",
			run.ID, run.ProjectRef, run.Status,
			run.Results.Passed, run.Results.Failed, run.Results.Pending,
			run.CreatedAt.Format(time.RFC3339)))
	}

	return sb.String()
}
