package normalizer

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/kantoor/internal/crmsync/domain"
	"gorm.io/datatypes"
)

// millisecondThreshold separates epoch seconds from epoch milliseconds.
const millisecondThreshold = 1e12

var emptyArray = datatypes.JSON("[]")

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize maps one raw ClickUp task onto the local mirror row. It never
// fails: malformed optional fields degrade to nil or an empty array. The
// returned record has no ID; callers assign one.
func Normalize(entityType, listID string, raw json.RawMessage, now time.Time) domain.ExternalRecord {
	now = now.UTC()
	record := domain.ExternalRecord{
		EntityType:    entityType,
		ClickUpListID: listID,
		Active:        true,
		Assignees:     emptyArray,
		Tags:          emptyArray,
		CustomFields:  emptyArray,
		Raw:           copyRaw(raw),
		SyncedAt:      now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	task, ok := decodeObject(raw)
	if !ok {
		return record
	}

	record.ClickUpTaskID = stringValue(task["id"])
	record.Name = stringValue(task["name"])
	record.Status = statusValue(task["status"])
	if url := stringValue(task["url"]); url != "" {
		record.URL = &url
	}
	if archived, ok := task["archived"].(bool); ok {
		record.Archived = archived
	}
	record.Assignees = arrayValue(task["assignees"])
	record.Tags = arrayValue(task["tags"])
	record.CustomFields = arrayValue(task["custom_fields"])
	record.DueDate = NormalizeTimestamp(task["due_date"])
	record.DateCreated = NormalizeTimestamp(task["date_created"])
	record.DateUpdated = NormalizeTimestamp(task["date_updated"])
	return record
}

// NormalizeTimestamp converts epoch seconds, epoch milliseconds (numeric or
// digit strings) and parseable date strings into a UTC instant. Anything
// else, including empty input, yields nil.
func NormalizeTimestamp(value any) *time.Time {
	switch v := value.(type) {
	case nil:
		return nil
	case json.Number:
		return fromString(v.String())
	case string:
		return fromString(v)
	case float64:
		return fromEpoch(v)
	case float32:
		return fromEpoch(float64(v))
	case int:
		return fromEpoch(float64(v))
	case int64:
		return fromEpoch(float64(v))
	case time.Time:
		if v.IsZero() {
			return nil
		}
		t := v.UTC()
		return &t
	default:
		return nil
	}
}

func fromString(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return fromEpoch(n)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func fromEpoch(n float64) *time.Time {
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return nil
	}
	var t time.Time
	if n >= millisecondThreshold {
		t = time.UnixMilli(int64(n)).UTC()
	} else {
		sec, frac := math.Modf(n)
		t = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return &t
}

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var task map[string]any
	if err := decoder.Decode(&task); err != nil || task == nil {
		return nil, false
	}
	return task, true
}

func copyRaw(raw json.RawMessage) datatypes.JSON {
	if !json.Valid(raw) {
		encoded, _ := json.Marshal(string(raw))
		return datatypes.JSON(encoded)
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return datatypes.JSON(out)
}

func stringValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func statusValue(value any) *string {
	switch v := value.(type) {
	case string:
		return &v
	case map[string]any:
		if status, ok := v["status"].(string); ok {
			return &status
		}
	}
	return nil
}

func arrayValue(value any) datatypes.JSON {
	items, ok := value.([]any)
	if !ok {
		return emptyArray
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return emptyArray
	}
	return datatypes.JSON(encoded)
}
