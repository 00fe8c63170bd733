package cls

import "strings"

// Default marker keywords for important items.
var defaultKeywords = []string{
	"利好", "利空", "重要", "突发", "紧急", "关注", "提醒", "涨停", "大跌", "突破",
}

// Classifier flags items whose text contains any of the configured
// keywords.
type Classifier struct {
	keywords []string
}

// NewClassifier builds a classifier; nil or empty keywords fall back to the
// default marker list.
func NewClassifier(keywords []string) *Classifier {
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	return &Classifier{keywords: keywords}
}

// Important reports whether text contains at least one marker keyword.
func (c *Classifier) Important(text string) bool {
	for _, kw := range c.keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
