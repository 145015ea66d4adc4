package types

import (
	"math"
	"strconv"
	"strings"
)

// EndTimeOngoing is the end_time sentinel of an alert that is still firing.
const EndTimeOngoing int64 = -1

// Alert record field names. Description fields share the same bag.
const (
	FieldStateName = "state_name"
	FieldStartTime = "start_time"
	FieldEndTime   = "end_time"
	FieldDuration  = "duration"
	FieldInfo      = "info"
)

// StateKindStale prefixes bad-state keys produced by heartbeat staleness.
const StateKindStale = "stale"

// Description is the open, string-valued bag of descriptive alert fields.
type Description map[string]string

// Clone returns a copy that can be mutated without touching d.
func (d Description) Clone() Description {
	out := make(Description, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// BadState is one abnormal condition detected during a reconciliation pass.
type BadState struct {
	Key         string
	Kind        string
	Entity      string
	Description Description
}

// StateKey builds the namespaced key for a bad state of the given kind.
func StateKey(kind, entity string) string {
	return kind + "_" + entity
}

// SplitStateKey returns the kind and entity encoded in a state key.
func SplitStateKey(key string) (kind, entity string) {
	kind, entity, found := strings.Cut(key, "_")
	if !found {
		return key, ""
	}
	return kind, entity
}

// Alert is a persisted alert record.
type Alert struct {
	ID          string
	StateName   string
	StartTime   int64
	EndTime     int64
	Duration    int64
	Description Description
}

// Ongoing reports whether the alert is still firing.
func (a Alert) Ongoing() bool {
	return a.EndTime == EndTimeOngoing
}

// Fields flattens the alert into its stored field bag.
func (a Alert) Fields() map[string]string {
	fields := make(map[string]string, len(a.Description)+4)
	for k, v := range a.Description {
		fields[k] = v
	}
	fields[FieldStateName] = a.StateName
	fields[FieldStartTime] = strconv.FormatInt(a.StartTime, 10)
	fields[FieldEndTime] = strconv.FormatInt(a.EndTime, 10)
	if !a.Ongoing() {
		fields[FieldDuration] = strconv.FormatInt(a.Duration, 10)
	}
	return fields
}

// AlertFromFields rebuilds an alert from a stored field bag. Missing or
// unparseable times decode as zero; callers decide how lenient to be.
func AlertFromFields(id string, fields map[string]string) Alert {
	a := Alert{
		ID:          id,
		StateName:   fields[FieldStateName],
		StartTime:   ParseSeconds(fields[FieldStartTime]),
		EndTime:     EndTimeOngoing,
		Description: make(Description),
	}
	if v, ok := fields[FieldEndTime]; ok {
		a.EndTime = ParseSeconds(v)
	}
	if v, ok := fields[FieldDuration]; ok {
		a.Duration = ParseSeconds(v)
	}
	for k, v := range fields {
		switch k {
		case FieldStateName, FieldStartTime, FieldEndTime, FieldDuration:
		default:
			a.Description[k] = v
		}
	}
	return a
}

// ParseSeconds parses an epoch-seconds field. Fractional values written by
// older tooling are truncated; anything unparseable yields zero.
func ParseSeconds(s string) int64 {
	v, ok := LookupSeconds(s)
	if !ok {
		return 0
	}
	return v
}

// LookupSeconds is ParseSeconds that also reports whether s held a number.
func LookupSeconds(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	// NaN, infinities and anything past int64 have no defined conversion
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// HeartbeatRecord is the last successful report of one monitored entity.
type HeartbeatRecord struct {
	EntityID string
	LastSeen int64
}
