package driver

import (
	"fmt"
	"strings"

	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
)

const progressWidth = 20

// ProgressBar renders a fixed-width text bar such as
// "Produced [##########----------] 10/20"
func ProgressBar(label string, current, total, width int) string {
	if width <= 0 {
		width = progressWidth
	}

	filled := 0
	if total > 0 {
		filled = min(current*width/total, width)
	}
	filled = max(filled, 0)

	return fmt.Sprintf("%s [%s%s] %d/%d",
		label,
		strings.Repeat("#", filled),
		strings.Repeat("-", width-filled),
		current,
		total,
	)
}

// RenderProgress renders the display lines for a snapshot
func RenderProgress(s models.PipelineSnapshot) []string {
	return []string{
		ProgressBar("Produced", s.Producer.EventsProduced, s.Producer.MaxEvents, progressWidth),
		ProgressBar("Consumed", s.Consumer.EventsConsumed, s.Consumer.TotalEvents, progressWidth),
		fmt.Sprintf("Queue depth: %d  Alerts: %d", s.Queue.Length, s.Consumer.AlertCount),
	}
}
