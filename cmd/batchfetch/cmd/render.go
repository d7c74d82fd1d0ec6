package cmd

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"batchfetch/internal/domain"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// renderResults prints one row per result. A job that has no results was
// never accounted for and is shown as missing.
func renderResults(jobs []domain.DownloadJob, results [][]domain.ExecutionResult) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "URL", "RESULT", "MESSAGE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for i, job := range jobs {
		n := strconv.Itoa(i + 1)
		if i >= len(results) || len(results[i]) == 0 {
			t.Row(n, job.URL, failedStyle.Render("missing"), "")
			continue
		}
		for _, r := range results[i] {
			status := okStyle.Render("ok")
			if !r.OK {
				status = failedStyle.Render("failed")
			}
			t.Row(n, job.URL, status, r.Message)
		}
	}
	return t.String()
}
