// Package dataset reads the crash-record table the application browses.
package dataset

import (
	"math"
	"strconv"
	"strings"
)

// Unknown is substituted for any field a record does not carry.
const Unknown = "unknown"

// Column names consumed by the prompt and the record card.
const (
	ColWeather   = "weather_description"
	ColDay       = "dayofweek"
	ColBody      = "body_description"
	ColSegment   = "segment_id"
	ColSeverity  = "severity_description"
	ColDirection = "direction_description_before_crash"
	ColRoadType  = "roadwaytype_description"
	ColAgency    = "agencyidentifier"
)

// Value is one cell. Absent marks an empty cell or a numeric sentinel
// (NaN, +Inf, -Inf) so it is never formatted as literal text.
type Value struct {
	Text   string
	Absent bool
}

// Record is one crash row, addressed by its position in the dataset.
type Record struct {
	Index  int
	Fields map[string]Value
}

// NewRecord builds a record from raw cell text, normalizing sentinels.
func NewRecord(index int, raw map[string]string) *Record {
	r := &Record{Index: index, Fields: make(map[string]Value, len(raw))}
	for k, v := range raw {
		r.Fields[k] = Normalize(v)
	}
	return r
}

// Get returns the display text of a field, or Unknown when the field is
// missing or absent.
func (r *Record) Get(name string) string {
	if r == nil {
		return Unknown
	}
	v, ok := r.Fields[name]
	if !ok || v.Absent {
		return Unknown
	}
	return v.Text
}

// Normalize converts a raw cell into a Value. Empty cells and anything that
// parses as a non-finite float become absent.
func Normalize(raw string) Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Value{Absent: true}
	}
	if isSentinel(s) {
		return Value{Absent: true}
	}
	return Value{Text: s}
}

// NormalizeFloat converts a numeric cell, treating NaN and infinities as
// absent and printing integral values without a fractional part.
func NormalizeFloat(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{Absent: true}
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return Value{Text: strconv.FormatInt(int64(f), 10)}
	}
	return Value{Text: strconv.FormatFloat(f, 'f', -1, 64)}
}

func isSentinel(s string) bool {
	switch strings.ToLower(s) {
	case "nan", "-nan", "+nan", "inf", "+inf", "-inf", "infinity", "+infinity", "-infinity", "null", "none", "<na>":
		return true
	}
	// overflowing literals such as 1e999 parse to ±Inf with a range error
	f, err := strconv.ParseFloat(s, 64)
	if math.IsInf(f, 0) {
		return true
	}
	return err == nil && math.IsNaN(f)
}
