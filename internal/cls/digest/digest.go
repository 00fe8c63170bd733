// Package digest renders a day's telegraph items as a markdown document.
// Important items come first in their own section, separated from the
// general roll. Rendering is deterministic so identical input yields an
// identical document and archives can skip unchanged rewrites.
package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"clsrelay/internal/cls"
)

const separator = "━━━━━━━━━━━━━━━━━━━"

const (
	headerImportant = "**🔴 重要电报**"
	headerGeneral   = "**📰 一般电报**"
)

// Render builds the markdown document for one day's items. Items are sorted
// newest first; an empty slice yields an empty document.
func Render(items []cls.Telegram, loc *time.Location) string {
	if len(items) == 0 {
		return ""
	}

	sorted := make([]cls.Telegram, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp > sorted[j].Timestamp
	})

	var important, general []cls.Telegram
	for _, t := range sorted {
		if t.Important {
			important = append(important, t)
		} else {
			general = append(general, t)
		}
	}

	var b strings.Builder
	if len(important) > 0 {
		b.WriteString(headerImportant + "\n\n")
		for _, t := range important {
			writeBullet(&b, t, loc, true)
		}
		if len(general) > 0 {
			b.WriteString(separator + "\n\n")
		}
	}
	if len(general) > 0 {
		b.WriteString(headerGeneral + "\n\n")
		for _, t := range general {
			writeBullet(&b, t, loc, false)
		}
	}
	return b.String()
}

// writeBullet emits one item line: "  - [HH:MM] [title](url)", bold for
// important items, plain title when no URL is known.
func writeBullet(b *strings.Builder, t cls.Telegram, loc *time.Location, bold bool) {
	title := t.Content
	if title == "" {
		title = t.Title
	}
	clock := t.ClockTime(loc)

	var body string
	if t.URL != "" {
		body = fmt.Sprintf("[%s](%s)", title, t.URL)
	} else {
		body = title
	}
	if bold {
		body = "**" + body + "**"
	}
	fmt.Fprintf(b, "  - [%s] %s\n\n", clock, body)
}

// Combined joins new items into the single text block pushed to chat:
// one "[HH:MM] content - url" line per item, newest first.
func Combined(items []cls.Telegram, loc *time.Location) string {
	sorted := make([]cls.Telegram, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp > sorted[j].Timestamp
	})

	lines := make([]string, 0, len(sorted))
	for _, t := range sorted {
		clock := t.ClockTime(loc)
		if clock == "" {
			clock = "未知时间"
		}
		content := t.Content
		if content == "" {
			content = "无内容"
		}
		link := t.URL
		if link == "" {
			link = "无链接"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s - %s", clock, content, link))
	}
	return strings.Join(lines, "\n\n")
}
