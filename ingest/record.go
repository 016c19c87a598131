package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"poi-server/models"
)

// Column order of a batch file row.
const (
	colName = iota
	colCategory
	colLat
	colLon
	colUpdated
	columnCount
)

type RejectReason string

const (
	RejectMalformedLine RejectReason = "malformed_line"
	RejectMissingFields RejectReason = "missing_fields"
	RejectEmptyName     RejectReason = "empty_name"
	RejectEmptyCategory RejectReason = "empty_category"
	RejectNameTooLong   RejectReason = "name_too_long"
	RejectCategoryLong  RejectReason = "category_too_long"
	RejectBadLatitude   RejectReason = "bad_latitude"
	RejectBadLongitude  RejectReason = "bad_longitude"
	RejectBadTimestamp  RejectReason = "bad_timestamp"
)

// Record is either Accepted or Rejected.
type Record interface {
	isRecord()
}

type Accepted struct {
	Line      int
	Name      string
	Category  string
	Lat       float64
	Lon       float64
	UpdatedAt time.Time
}

type Rejected struct {
	Line   int
	Reason RejectReason
	Detail string
}

func (Accepted) isRecord() {}
func (Rejected) isRecord() {}

// Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseFields classifies one data row.
func ParseFields(line int, fields []string) Record {
	if len(fields) < columnCount {
		return Rejected{Line: line, Reason: RejectMissingFields, Detail: strconv.Itoa(len(fields)) + " fields"}
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	name, category := fields[colName], fields[colCategory]
	switch {
	case name == "":
		return Rejected{Line: line, Reason: RejectEmptyName}
	case category == "":
		return Rejected{Line: line, Reason: RejectEmptyCategory}
	case utf8.RuneCountInString(name) > models.NameMaxLength:
		return Rejected{Line: line, Reason: RejectNameTooLong}
	case utf8.RuneCountInString(category) > models.CategoryMaxLength:
		return Rejected{Line: line, Reason: RejectCategoryLong}
	}

	lat, ok := parseOrdinate(fields[colLat], 90)
	if !ok {
		return Rejected{Line: line, Reason: RejectBadLatitude, Detail: fields[colLat]}
	}
	lon, ok := parseOrdinate(fields[colLon], 180)
	if !ok {
		return Rejected{Line: line, Reason: RejectBadLongitude, Detail: fields[colLon]}
	}
	updated, ok := parseTimestamp(fields[colUpdated])
	if !ok {
		return Rejected{Line: line, Reason: RejectBadTimestamp, Detail: fields[colUpdated]}
	}

	return Accepted{Line: line, Name: name, Category: category, Lat: lat, Lon: lon, UpdatedAt: updated}
}

func parseOrdinate(s string, limit float64) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > limit {
		return 0, false
	}
	return v, true
}

func parseTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
