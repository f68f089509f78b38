// Package prompt turns crash records and chat messages into model prompts.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aigoflow/crash-insight/internal/dataset"
)

var ErrNotRecord = errors.New("prompt: input is not a crash record")

// Field describes one record attribute shown on the crash card.
type Field struct {
	Column string
	Label  string
	Icon   string
}

// DisplayFields is the fixed card layout, in display order.
var DisplayFields = []Field{
	{Column: dataset.ColWeather, Label: "Weather", Icon: "☁️"},
	{Column: dataset.ColDay, Label: "Day of Week", Icon: "📅"},
	{Column: dataset.ColBody, Label: "Vehicle Body Type", Icon: "🚗"},
	{Column: dataset.ColSegment, Label: "Location Segment ID", Icon: "🗺️"},
	{Column: dataset.ColSeverity, Label: "Severity", Icon: "⚠️"},
	{Column: dataset.ColDirection, Label: "Direction Before Crash", Icon: "↗️"},
	{Column: dataset.ColRoadType, Label: "Road Type", Icon: "🛣️"},
	{Column: dataset.ColAgency, Label: "Reporting Agency", Icon: "🏢"},
}

// BuildCrashPrompt formats a record as five newline-terminated sentences.
// Missing or absent fields read "unknown".
func BuildCrashPrompt(r *dataset.Record) (string, error) {
	if r == nil {
		return "", ErrNotRecord
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The crash occurred on a %s with weather described as %s.\n",
		r.Get(dataset.ColDay), r.Get(dataset.ColWeather))
	fmt.Fprintf(&b, "The vehicle body type involved was %s.\n", r.Get(dataset.ColBody))
	fmt.Fprintf(&b, "The location segment ID is %s.\n", r.Get(dataset.ColSegment))
	fmt.Fprintf(&b, "The reported severity description is %s.\n", r.Get(dataset.ColSeverity))
	b.WriteString("Please summarize this crash data and predict the severity.\n")
	return b.String(), nil
}

// BuildChatPrompt wraps user text in the User/Assistant role tags. The text
// is used verbatim; rejecting blank input is the caller's job.
func BuildChatPrompt(userText string) string {
	return "User: " + userText + "\nAssistant:"
}
