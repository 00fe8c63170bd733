package digest

import (
	"regexp"
	"strings"

	"clsrelay/internal/cls"
)

// bulletRe recovers one archived item line. Bold markers around the link
// identify items that were filed as important.
var bulletRe = regexp.MustCompile(
	`^\s*-\s*\[(\d{2}:\d{2})\]\s*(\*\*)?\[(.*?)\]\(https://www\.cls\.cn/detail/(\d+)\)(\*\*)?\s*$`,
)

// Parse recovers items from a rendered document so a day's archive can be
// merged with a fresh roll. Timestamps are not stored in markdown; parsed
// items keep only their display clock and sort after timestamped ones.
func Parse(doc string) []cls.Telegram {
	var items []cls.Telegram
	for _, line := range strings.Split(doc, "\n") {
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		clock, boldOpen, content, id := m[1], m[2], m[3], m[4]
		items = append(items, cls.Telegram{
			ID:        id,
			Content:   content,
			URL:       "https://www.cls.cn/detail/" + id,
			Important: boldOpen == "**",
			Clock:     clock,
		})
	}
	return items
}

// Merge combines archived and freshly fetched items, deduplicated by ID
// with the fresh copy winning. Order is left to Render's sort.
func Merge(archived, fresh []cls.Telegram) []cls.Telegram {
	seen := make(map[string]struct{}, len(fresh))
	out := make([]cls.Telegram, 0, len(archived)+len(fresh))
	for _, t := range fresh {
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	for _, t := range archived {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}
