package tools

import (
	"context"
	"encoding/json"
	"time"
)

// clockToolName is the built-in time tool. It always survives a
// registry Reset and can be overridden by re-registering the name.
const clockToolName = "current_time"

func clockTool() *Tool {
	return &Tool{
		Name:        clockToolName,
		Description: "Get the current date and time. Use this whenever the user asks about the time, date, or day of week.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name (e.g., Europe/Berlin). Defaults to the server's local zone.",
				},
			},
		},
		Handler: handleClock,
	}
}

func handleClock(ctx context.Context, args map[string]any) (string, error) {
	now := time.Now()

	if tz, _ := args["timezone"].(string); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err == nil {
			now = now.In(loc)
		}
	}

	out, err := json.Marshal(map[string]any{
		"time":     now.Format(time.RFC3339),
		"unix":     now.Unix(),
		"weekday":  now.Weekday().String(),
		"timezone": now.Location().String(),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
