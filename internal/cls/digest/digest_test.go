package digest

import (
	"strings"
	"testing"
	"time"

	"clsrelay/internal/cls"
)

var cst = time.FixedZone("CST", 8*3600)

// 2025-06-01 18:00 CST
const baseTS = 1748772000

func sampleItems() []cls.Telegram {
	return []cls.Telegram{
		{ID: "1", Content: "平常消息一", URL: "https://www.cls.cn/detail/1", Timestamp: baseTS},
		{ID: "2", Content: "突发重要公告", URL: "https://www.cls.cn/detail/2", Important: true, Timestamp: baseTS + 60},
		{ID: "3", Content: "平常消息二", URL: "https://www.cls.cn/detail/3", Timestamp: baseTS + 120},
	}
}

func TestRenderSections(t *testing.T) {
	t.Parallel()
	doc := Render(sampleItems(), cst)

	impIdx := strings.Index(doc, headerImportant)
	sepIdx := strings.Index(doc, separator)
	genIdx := strings.Index(doc, headerGeneral)
	if impIdx < 0 || sepIdx < 0 || genIdx < 0 {
		t.Fatalf("missing section markers:\n%s", doc)
	}
	if !(impIdx < sepIdx && sepIdx < genIdx) {
		t.Fatalf("sections out of order:\n%s", doc)
	}

	// Important items are bold, general ones are not.
	if !strings.Contains(doc, "**[突发重要公告](https://www.cls.cn/detail/2)**") {
		t.Fatalf("important bullet not bold:\n%s", doc)
	}
	if strings.Contains(doc, "**[平常消息一]") {
		t.Fatalf("general bullet must not be bold:\n%s", doc)
	}

	// Newest general item first.
	if strings.Index(doc, "平常消息二") > strings.Index(doc, "平常消息一") {
		t.Fatalf("general items not newest-first:\n%s", doc)
	}

	// Bullets carry the HH:MM clock time.
	if !strings.Contains(doc, "- [18:00]") {
		t.Fatalf("missing clock time:\n%s", doc)
	}
}

func TestRenderDeterministic(t *testing.T) {
	t.Parallel()
	a := Render(sampleItems(), cst)
	b := Render(sampleItems(), cst)
	if a != b {
		t.Fatal("identical input produced different documents")
	}
}

func TestRenderOnlyGeneral(t *testing.T) {
	t.Parallel()
	items := []cls.Telegram{{ID: "1", Content: "x", Timestamp: baseTS}}
	doc := Render(items, cst)
	if strings.Contains(doc, headerImportant) || strings.Contains(doc, separator) {
		t.Fatalf("no important section expected:\n%s", doc)
	}
	if !strings.Contains(doc, headerGeneral) {
		t.Fatalf("missing general section:\n%s", doc)
	}
	// No URL: title stays plain text.
	if strings.Contains(doc, "](") {
		t.Fatalf("unexpected link:\n%s", doc)
	}
}

func TestRenderEmpty(t *testing.T) {
	t.Parallel()
	if doc := Render(nil, cst); doc != "" {
		t.Fatalf("empty input produced %q", doc)
	}
}

func TestCombined(t *testing.T) {
	t.Parallel()
	got := Combined(sampleItems(), cst)

	lines := strings.Split(got, "\n\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "[18:02] 平常消息二") {
		t.Fatalf("first line = %q, want newest first", lines[0])
	}
	if !strings.Contains(lines[0], " - https://www.cls.cn/detail/3") {
		t.Fatalf("first line missing url: %q", lines[0])
	}

	// Unknown fields get placeholders.
	one := Combined([]cls.Telegram{{ID: "9"}}, cst)
	if !strings.Contains(one, "未知时间") || !strings.Contains(one, "无内容") || !strings.Contains(one, "无链接") {
		t.Fatalf("missing placeholders: %q", one)
	}
}
