package feed

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/tphakala/safetynet-go/internal/errors"
)

// ErrMalformedChange marks a change that could not be decoded into an Event.
var ErrMalformedChange = errors.Newf("malformed change payload").
	Component("feed").
	Category(errors.CategoryFeedDecode).
	Build()

func malformed(table, reason string) error {
	return errors.New(ErrMalformedChange).
		Component("feed").
		Category(errors.CategoryFeedDecode).
		Context("table", table).
		Context("reason", reason).
		Build()
}

func newRecord(table Table) Record {
	switch table {
	case TablePresence:
		return &PresenceRow{}
	case TablePanicAlerts:
		return &PanicAlertRow{}
	case TablePanicLocationLogs:
		return &LocationLogRow{}
	case TableIncidents:
		return &IncidentRow{}
	case TableLookAfterMe:
		return &LookAfterMeRow{}
	case TableMessages:
		return &MessageRow{}
	default:
		return nil
	}
}

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}

// Decode turns one raw row of table into its typed, validated Record.
func Decode(table Table, raw json.RawMessage) (Record, error) {
	return decode(table, raw, true)
}

// decode unmarshals raw. Non-strict decoding only requires a primary key, which is
// all a delete or an old-row image is guaranteed to carry.
func decode(table Table, raw json.RawMessage, strict bool) (Record, error) {
	rec := newRecord(table)
	if rec == nil {
		return nil, malformed(string(table), "unknown table")
	}
	if isEmpty(raw) {
		return nil, malformed(string(table), "empty row")
	}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, malformed(string(table), err.Error())
	}
	if strict {
		if err := rec.validate(); err != nil {
			return nil, malformed(string(table), err.Error())
		}
	} else if rec.EntityID() == "" {
		return nil, malformed(string(table), "missing primary key")
	}
	return rec, nil
}

func parseKind(s string) (ChangeKind, bool) {
	switch ChangeKind(strings.ToLower(strings.TrimSpace(s))) {
	case Insert:
		return Insert, true
	case Update:
		return Update, true
	case Delete:
		return Delete, true
	default:
		return "", false
	}
}

// ToEvent validates the envelope and decodes its rows. now stamps events whose
// envelope carries no commit timestamp.
func (c Change) ToEvent(now time.Time) (Event, error) {
	table := Table(c.Table)
	if !table.Known() {
		return Event{}, malformed(c.Table, "unknown table")
	}
	kind, ok := parseKind(c.Type)
	if !ok {
		return Event{}, malformed(c.Table, "unknown change type "+c.Type)
	}

	ev := Event{Table: table, Kind: kind, OccurredAt: c.CommitTimestamp}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}

	var columnSource json.RawMessage
	switch kind {
	case Insert, Update:
		after, err := decode(table, c.Record, true)
		if err != nil {
			return Event{}, err
		}
		ev.After = after
		ev.EntityID = after.EntityID()
		columnSource = c.Record

		if kind == Update && !isEmpty(c.OldRecord) {
			// An unusable old row only costs transition detection, not the event.
			if before, err := decode(table, c.OldRecord, false); err == nil && before.EntityID() == ev.EntityID {
				ev.Before = before
			}
		}
	case Delete:
		before, err := decode(table, c.OldRecord, false)
		if err != nil {
			return Event{}, err
		}
		ev.Before = before
		ev.EntityID = before.EntityID()
		columnSource = c.OldRecord
	}

	var columns map[string]any
	if err := json.Unmarshal(columnSource, &columns); err == nil {
		ev.columns = columns
	}
	return ev, nil
}
