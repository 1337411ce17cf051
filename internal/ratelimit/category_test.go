package ratelimit

import (
	"testing"

	"github.com/your-org/sentry-envelope-transport/internal/envelope"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		Category
		want string
	}{
		{CategoryAll, "CategoryAll"},
		{CategoryError, "CategoryError"},
		{CategoryTransaction, "CategoryTransaction"},
		{CategoryLog, "CategoryLogItem"},
		{Category("unknown"), "CategoryUnknown"},
		{Category("two words"), "CategoryTwoWords"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.want, func(t *testing.T) {
			got := tt.Category.String()
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		itemType envelope.ItemType
		want     Category
	}{
		{envelope.TypeEvent, CategoryError},
		{envelope.TypeTransaction, CategoryTransaction},
		{envelope.TypeAttachment, CategoryAttachment},
		{envelope.TypeSession, CategorySession},
		{envelope.TypeSessions, CategorySession},
		{envelope.TypeClientReport, CategoryInternal},
		{envelope.TypeProfile, CategoryProfile},
		{envelope.TypeReplayRecording, CategoryReplay},
		{envelope.TypeCheckIn, CategoryMonitor},
		{envelope.TypeLog, CategoryLog},
		{envelope.ItemType("something_new"), CategoryInternal},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.itemType), func(t *testing.T) {
			if got := CategoryOf(tt.itemType); got != tt.want {
				t.Errorf("CategoryOf(%q) = %q, want %q", tt.itemType, got, tt.want)
			}
		})
	}
}
