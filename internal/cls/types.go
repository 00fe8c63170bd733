// Package cls fetches telegraph items from the CLS news endpoint and
// classifies them. The endpoint is public but signed; every request carries
// a signature derived from its sorted query parameters.
package cls

import (
	"fmt"
	"time"
)

// Telegram is one short news item.
type Telegram struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	URL       string `json:"url"`
	Important bool   `json:"important"`
	// Timestamp is the publish time in epoch seconds, 0 when unknown.
	Timestamp int64 `json:"timestamp"`
	// Clock is the HH:MM display time carried by items recovered from an
	// archived document, where the original timestamp is gone.
	Clock string `json:"clock,omitempty"`
}

// ClockTime renders the publish time as HH:MM in the display timezone,
// falling back to the carried Clock, empty when neither is known.
func (t Telegram) ClockTime(loc *time.Location) string {
	if t.Timestamp <= 0 {
		return t.Clock
	}
	return time.Unix(t.Timestamp, 0).In(loc).Format("15:04")
}

// Day returns the publish date as YYYY-MM-DD in the display timezone.
func (t Telegram) Day(loc *time.Location) string {
	return time.Unix(t.Timestamp, 0).In(loc).Format("2006-01-02")
}

func detailURL(id string) string {
	if id == "" {
		return ""
	}
	return fmt.Sprintf("https://www.cls.cn/detail/%s", id)
}
