// Package clientreport aggregates discarded-item outcomes and turns them
// into client_report envelope items.
package clientreport

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/your-org/sentry-envelope-transport/internal/envelope"
	"github.com/your-org/sentry-envelope-transport/internal/ratelimit"
)

// OutcomeKey identifies an outcome bucket.
type OutcomeKey struct {
	Reason   DiscardReason
	Category ratelimit.Category
}

// DiscardedEvent is the count of items dropped for one OutcomeKey.
type DiscardedEvent struct {
	Reason   DiscardReason      `json:"reason"`
	Category ratelimit.Category `json:"category"`
	Quantity int64              `json:"quantity"`
}

// ClientReport is the payload of a client_report item.
type ClientReport struct {
	Timestamp       time.Time        `json:"timestamp"`
	DiscardedEvents []DiscardedEvent `json:"discarded_events"`
}

// ToEnvelopeItem serializes the report into a client_report item.
func (r *ClientReport) ToEnvelopeItem() (*envelope.Item, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return envelope.NewItem(envelope.TypeClientReport, payload), nil
}

// Recorder tallies discarded items by (reason, category). It has no network
// knowledge: Flush hands back an item for the caller to send.
type Recorder struct {
	clock clock.Clock

	mu       sync.Mutex
	outcomes map[OutcomeKey]int64
}

// NewRecorder creates an empty recorder. A nil clock uses the wall clock.
func NewRecorder(c clock.Clock) *Recorder {
	if c == nil {
		c = clock.New()
	}
	return &Recorder{
		clock:    c,
		outcomes: make(map[OutcomeKey]int64),
	}
}

// Record adds quantity discarded items for reason and category.
func (r *Recorder) Record(reason DiscardReason, category ratelimit.Category, quantity int64) {
	if r == nil || quantity <= 0 {
		return
	}
	r.mu.Lock()
	r.outcomes[OutcomeKey{Reason: reason, Category: category}] += quantity
	r.mu.Unlock()
}

// RecordDroppedEvent records a single discarded item.
func (r *Recorder) RecordDroppedEvent(reason DiscardReason, category ratelimit.Category) {
	r.Record(reason, category, 1)
}

// Len returns the number of distinct outcome buckets pending.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

// TakeReport snapshots and resets the tally. It returns nil when nothing
// was recorded since the previous call. Events are sorted by reason, then
// category.
func (r *Recorder) TakeReport() *ClientReport {
	r.mu.Lock()
	outcomes := r.outcomes
	r.outcomes = make(map[OutcomeKey]int64)
	r.mu.Unlock()

	if len(outcomes) == 0 {
		return nil
	}

	events := make([]DiscardedEvent, 0, len(outcomes))
	for key, quantity := range outcomes {
		events = append(events, DiscardedEvent{
			Reason:   key.Reason,
			Category: key.Category,
			Quantity: quantity,
		})
	}
	sort.Slice(events, func(i, j int) bool {
		if c := strings.Compare(string(events[i].Reason), string(events[j].Reason)); c != 0 {
			return c < 0
		}
		return events[i].Category < events[j].Category
	})

	return &ClientReport{
		Timestamp:       r.clock.Now().UTC(),
		DiscardedEvents: events,
	}
}

// Flush takes the current report and returns it as an envelope item, or nil
// when there is nothing to report.
func (r *Recorder) Flush() (*envelope.Item, error) {
	report := r.TakeReport()
	if report == nil {
		return nil, nil
	}
	return report.ToEnvelopeItem()
}

// NewEnvelope wraps a client_report item into a standalone envelope.
func NewEnvelope(item *envelope.Item, dsn string, sentAt time.Time) *envelope.Envelope {
	return envelope.New(envelope.Header{
		EventID: strings.ReplaceAll(uuid.NewString(), "-", ""),
		SentAt:  sentAt,
		DSN:     dsn,
	}, item)
}
