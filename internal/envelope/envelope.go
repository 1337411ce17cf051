// Package envelope implements the Sentry envelope wire model.
//
// Format: Headers "\n" { Item } [ "\n" ]
// Item: Headers "\n" Payload "\n".
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ItemType is the type tag carried in an item header.
type ItemType string

const (
	TypeEvent           ItemType = "event"
	TypeTransaction     ItemType = "transaction"
	TypeAttachment      ItemType = "attachment"
	TypeSession         ItemType = "session"
	TypeSessions        ItemType = "sessions"
	TypeClientReport    ItemType = "client_report"
	TypeProfile         ItemType = "profile"
	TypeProfileChunk    ItemType = "profile_chunk"
	TypeReplayEvent     ItemType = "replay_event"
	TypeReplayRecording ItemType = "replay_recording"
	TypeCheckIn         ItemType = "check_in"
	TypeFeedback        ItemType = "feedback"
	TypeSpan            ItemType = "span"
	TypeLog             ItemType = "log"
	TypeStatsd          ItemType = "statsd"
	TypeUserReport      ItemType = "user_report"
)

// SDKInfo identifies the SDK that produced the envelope.
type SDKInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Header is the envelope header. Fields not modelled here are kept in Extra
// and written back on serialization.
type Header struct {
	EventID string            `json:"event_id,omitempty"`
	SentAt  time.Time         `json:"sent_at,omitempty"`
	DSN     string            `json:"dsn,omitempty"`
	SDK     *SDKInfo          `json:"sdk,omitempty"`
	Trace   map[string]string `json:"trace,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var headerKeys = []string{"event_id", "sent_at", "dsn", "sdk", "trace"}

// MarshalJSON writes the modelled fields followed by Extra.
func (h Header) MarshalJSON() ([]byte, error) {
	type header Header
	known := struct {
		header
		SentAt *time.Time `json:"sent_at,omitempty"`
	}{header: header(h)}
	if !h.SentAt.IsZero() {
		sentAt := h.SentAt.UTC()
		known.SentAt = &sentAt
	}
	data, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, h.Extra)
}

// UnmarshalJSON reads the modelled fields and keeps the rest in Extra. A
// sent_at value that is not an RFC 3339 string is kept verbatim in Extra.
func (h *Header) UnmarshalJSON(data []byte) error {
	type header Header
	var known struct {
		header
		SentAt json.RawMessage `json:"sent_at,omitempty"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := splitExtra(data, headerKeys)
	if err != nil {
		return err
	}
	*h = Header(known.header)
	if len(known.SentAt) > 0 {
		if err := json.Unmarshal(known.SentAt, &h.SentAt); err != nil {
			if extra == nil {
				extra = make(map[string]json.RawMessage, 1)
			}
			extra["sent_at"] = known.SentAt
		}
	}
	h.Extra = extra
	return nil
}

// ItemHeader is the header of a single envelope item.
type ItemHeader struct {
	Type           ItemType `json:"type"`
	Length         *int     `json:"length,omitempty"`
	Filename       string   `json:"filename,omitempty"`
	ContentType    string   `json:"content_type,omitempty"`
	AttachmentType string   `json:"attachment_type,omitempty"`
	ItemCount      *int     `json:"item_count,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var itemHeaderKeys = []string{"type", "length", "filename", "content_type", "attachment_type", "item_count"}

// MarshalJSON writes the modelled fields followed by Extra.
func (h ItemHeader) MarshalJSON() ([]byte, error) {
	type itemHeader ItemHeader
	data, err := json.Marshal(itemHeader(h))
	if err != nil {
		return nil, err
	}
	return mergeExtra(data, h.Extra)
}

// UnmarshalJSON reads the modelled fields and keeps the rest in Extra.
func (h *ItemHeader) UnmarshalJSON(data []byte) error {
	type itemHeader ItemHeader
	var known itemHeader
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := splitExtra(data, itemHeaderKeys)
	if err != nil {
		return err
	}
	*h = ItemHeader(known)
	h.Extra = extra
	return nil
}

// Item is one typed payload inside an envelope.
type Item struct {
	Header  ItemHeader
	Payload []byte
}

// NewItem creates an item with an explicit length.
func NewItem(itemType ItemType, payload []byte) *Item {
	length := len(payload)
	return &Item{
		Header: ItemHeader{
			Type:   itemType,
			Length: &length,
		},
		Payload: payload,
	}
}

// NewAttachmentItem creates an attachment item.
func NewAttachmentItem(filename, contentType string, payload []byte) *Item {
	item := NewItem(TypeAttachment, payload)
	item.Header.Filename = filename
	item.Header.ContentType = contentType
	return item
}

// Type returns the item type.
func (i *Item) Type() ItemType {
	return i.Header.Type
}

// Envelope is a header plus an ordered list of items. It is treated as
// immutable once handed to a transport; Filter returns a new value.
type Envelope struct {
	Header Header
	Items  []*Item
}

// New creates an envelope from a header and items.
func New(header Header, items ...*Item) *Envelope {
	return &Envelope{
		Header: header,
		Items:  items,
	}
}

// Filter returns an envelope sharing e's header with only the items keep
// accepts, in their original order.
func (e *Envelope) Filter(keep func(*Item) bool) *Envelope {
	items := make([]*Item, 0, len(e.Items))
	for _, item := range e.Items {
		if item != nil && keep(item) {
			items = append(items, item)
		}
	}
	return &Envelope{
		Header: e.Header,
		Items:  items,
	}
}

// Serialize encodes the envelope in the line-delimited wire format.
func (e *Envelope) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	headerBytes, err := json.Marshal(e.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope header: %w", err)
	}
	buf.Write(headerBytes)
	buf.WriteByte('\n')

	for _, item := range e.Items {
		if item == nil {
			continue
		}
		if err := writeItem(&buf, item); err != nil {
			return nil, fmt.Errorf("failed to write envelope item: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// Serialize is the default serializer handed to transports.
func Serialize(e *Envelope) ([]byte, error) {
	return e.Serialize()
}

func writeItem(buf *bytes.Buffer, item *Item) error {
	header := item.Header
	if header.Length == nil {
		length := len(item.Payload)
		header.Length = &length
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal item header: %w", err)
	}
	buf.Write(headerBytes)
	buf.WriteByte('\n')
	buf.Write(item.Payload)
	buf.WriteByte('\n')
	return nil
}

func mergeExtra(known []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return known, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

func splitExtra(data []byte, knownKeys []string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for _, k := range knownKeys {
		delete(fields, k)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
