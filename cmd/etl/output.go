package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"

	"github.com/johndauphine/etl-orchestrator/internal/model"
)

var (
	colorGreen  = lipgloss.Color("#04B575")
	colorRed    = lipgloss.Color("#FF4141")
	colorYellow = lipgloss.Color("#FFC107")
	colorBlue   = lipgloss.Color("#007BFF")
	colorGray   = lipgloss.Color("#626262")

	styleHeader = lipgloss.NewStyle().Bold(true)
	styleMuted  = lipgloss.NewStyle().Foreground(colorGray)
)

var statusColors = map[model.Status]lipgloss.Color{
	model.StatusPending:   colorGray,
	model.StatusRunning:   colorBlue,
	model.StatusCompleted: colorGreen,
	model.StatusFailed:    colorRed,
	model.StatusCancelled: colorYellow,
}

// styleStatus pads a status to width and colours it.
func styleStatus(s model.Status, width int) string {
	text := fmt.Sprintf("%-*s", width, s)
	color, ok := statusColors[s]
	if !ok {
		return text
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}

func styleResult(ok bool, msg string) string {
	if ok {
		return lipgloss.NewStyle().Foreground(colorGreen).Render("OK") + "  " + msg
	}
	return lipgloss.NewStyle().Foreground(colorRed).Render("FAILED") + "  " + msg
}

func jsonOutput(c *cli.Context) bool {
	for _, ctx := range c.Lineage() {
		if ctx != nil && ctx.Bool("json") {
			return true
		}
	}
	return false
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func printConnections(conns []*model.Connection) {
	if len(conns) == 0 {
		fmt.Println("No connections found")
		return
	}
	fmt.Println(styleHeader.Render(fmt.Sprintf("%-36s  %-20s  %-14s  %-10s  %s", "ID", "Name", "Type", "Driver", "Address")))
	for _, c := range conns {
		fmt.Printf("%-36s  %-20s  %-14s  %-10s  %s:%d\n",
			c.ID, truncate(c.Name, 20), c.Type, c.Driver(), c.Host, c.Port)
	}
}

func printTasks(tasks []*model.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return
	}
	fmt.Println(styleHeader.Render(fmt.Sprintf("%-36s  %-24s  %-26s  %-10s  %s", "ID", "Name", "Type", "Status", "Last Run")))
	for _, t := range tasks {
		fmt.Printf("%-36s  %-24s  %-26s  %s  %s\n",
			t.ID, truncate(t.Name, 24), t.Type, styleStatus(t.Status, 10), formatTime(t.StartTime))
	}
}

func printTask(t *model.Task) error {
	fmt.Printf("%-12s %s\n", "ID:", t.ID)
	fmt.Printf("%-12s %s\n", "Name:", t.Name)
	if t.Description != "" {
		fmt.Printf("%-12s %s\n", "Description:", t.Description)
	}
	fmt.Printf("%-12s %s\n", "Type:", t.Type)
	fmt.Printf("%-12s %s\n", "Status:", styleStatus(t.Status, 0))
	fmt.Printf("%-12s %s\n", "Source:", t.SourceConnectionID)
	if t.TargetConnectionID != "" {
		fmt.Printf("%-12s %s\n", "Target:", t.TargetConnectionID)
	}
	if t.Schedule != "" {
		fmt.Printf("%-12s %s\n", "Schedule:", t.Schedule)
	}
	fmt.Printf("%-12s %s\n", "Started:", formatTime(t.StartTime))
	fmt.Printf("%-12s %s\n", "Ended:", formatTime(t.EndTime))
	if t.ErrorMessage != "" {
		fmt.Printf("%-12s %s\n", "Error:", lipgloss.NewStyle().Foreground(colorRed).Render(t.ErrorMessage))
	}
	for _, section := range []struct {
		title string
		cfg   model.Config
	}{{"Config", t.Config}, {"Result", t.Result}} {
		if len(section.cfg) == 0 {
			continue
		}
		data, err := json.MarshalIndent(section.cfg, "  ", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", strings.ToLower(section.title), err)
		}
		fmt.Printf("%s:\n  %s\n", section.title, data)
	}
	return nil
}

func printHistory(history []*model.History) {
	if len(history) == 0 {
		fmt.Println("No runs found")
		return
	}
	fmt.Println(styleHeader.Render(fmt.Sprintf("%-20s  %-10s  %-10s  %12s  %s", "Started", "Status", "Duration", "Rows", "Error")))
	for _, h := range history {
		start := h.StartTime
		fmt.Printf("%-20s  %s  %-10s  %12d  %s\n",
			formatTime(&start),
			styleStatus(h.Status, 10),
			h.Duration().Round(time.Second),
			h.RowsProcessed,
			styleMuted.Render(truncate(h.ErrorMessage, 60)))
	}
}
