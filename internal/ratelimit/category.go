package ratelimit

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/your-org/sentry-envelope-transport/internal/envelope"
)

// Category classifies envelope items for rate limiting and outcome
// accounting.
//
// See https://develop.sentry.dev/sdk/expected-features/rate-limiting/#definitions
type Category string

// CategoryAll is the wildcard key: a limit stored under it applies to every
// category.
const CategoryAll Category = ""

const (
	CategoryDefault     Category = "default"
	CategoryError       Category = "error"
	CategoryTransaction Category = "transaction"
	CategoryAttachment  Category = "attachment"
	CategorySession     Category = "session"
	CategoryProfile     Category = "profile"
	CategoryReplay      Category = "replay"
	CategoryMonitor     Category = "monitor"
	CategoryFeedback    Category = "feedback"
	CategorySpan        Category = "span"
	CategoryLog         Category = "log_item"
	CategoryMetric      Category = "metric_bucket"
	CategoryInternal    Category = "internal"
)

var itemCategories = map[envelope.ItemType]Category{
	envelope.TypeEvent:           CategoryError,
	envelope.TypeTransaction:     CategoryTransaction,
	envelope.TypeAttachment:      CategoryAttachment,
	envelope.TypeSession:         CategorySession,
	envelope.TypeSessions:        CategorySession,
	envelope.TypeClientReport:    CategoryInternal,
	envelope.TypeProfile:         CategoryProfile,
	envelope.TypeProfileChunk:    CategoryProfile,
	envelope.TypeReplayEvent:     CategoryReplay,
	envelope.TypeReplayRecording: CategoryReplay,
	envelope.TypeCheckIn:         CategoryMonitor,
	envelope.TypeFeedback:        CategoryFeedback,
	envelope.TypeSpan:            CategorySpan,
	envelope.TypeLog:             CategoryLog,
	envelope.TypeStatsd:          CategoryMetric,
	envelope.TypeUserReport:      CategoryDefault,
}

// CategoryOf maps an item type to its category. Unknown types are internal.
func CategoryOf(t envelope.ItemType) Category {
	if c, ok := itemCategories[t]; ok {
		return c
	}
	return CategoryInternal
}

// String returns a readable name such as "CategoryError" or "CategoryAll".
func (c Category) String() string {
	if c == CategoryAll {
		return "CategoryAll"
	}
	words := strings.FieldsFunc(string(c), func(r rune) bool {
		return r == ' ' || r == '_'
	})
	caser := cases.Title(language.English)
	var b strings.Builder
	b.WriteString("Category")
	for _, w := range words {
		b.WriteString(caser.String(w))
	}
	return b.String()
}
