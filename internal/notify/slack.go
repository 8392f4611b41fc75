package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/johndauphine/etl-orchestrator/internal/config"
)

const footer = "etl-orchestrator"

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// TaskCompleted sends notification when a task attempt succeeds
func (n *Notifier) TaskCompleted(ev Event) error {
	if !n.IsEnabled() {
		return nil
	}

	rate := int64(0)
	if secs := ev.Duration.Seconds(); secs > 0 {
		rate = int64(float64(ev.Rows) / secs)
	}
	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":white_check_mark:",
		Text: fmt.Sprintf("Task %s completed. Processed %s rows (%s rows/sec).",
			ev.TaskName, formatNumberWithCommas(ev.Rows), formatNumberWithCommas(rate)),
		Attachments: []SlackAttachment{
			{
				Color:     "#36a64f", // green
				Fields:    n.fields(ev),
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// TaskFailed sends notification when a task attempt fails or is cancelled
func (n *Notifier) TaskFailed(ev Event) error {
	if !n.IsEnabled() {
		return nil
	}

	title, color, icon := "Task Failed", "#dc3545", ":x:"
	if ev.Status == "cancelled" {
		title, color, icon = "Task Cancelled", "#ffc107", ":warning:"
	}

	fields := n.fields(ev)
	if ev.Err != nil {
		errMsg := ev.Err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
		fields = append(fields, SlackField{Title: "Error", Value: errMsg, Short: false})
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: icon,
		Attachments: []SlackAttachment{
			{
				Color:     color,
				Title:     title,
				Fields:    fields,
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

func (n *Notifier) fields(ev Event) []SlackField {
	return []SlackField{
		{Title: "Task", Value: ev.TaskName, Short: true},
		{Title: "Type", Value: ev.TaskType, Short: true},
		{Title: "Started", Value: ev.Started.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
		{Title: "Duration", Value: formatDuration(ev.Duration), Short: true},
		{Title: "Rows", Value: formatNumberWithCommas(ev.Rows), Short: true},
		{Title: "Task ID", Value: ev.TaskID, Short: true},
	}
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return footer
}

func formatNumberWithCommas(n int64) string {
	if n < 0 {
		return "-" + formatNumberWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result []byte
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
