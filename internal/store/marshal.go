package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/furnish/internal/kernel"
)

// Times are stored as RFC 3339 text in UTC; the zero time is stored as ''.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func marshalProperties(p map[string]string) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	// encoding/json sorts map keys, so equal maps store identical text.
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}
	return string(data), nil
}

func unmarshalProperties(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var p map[string]string
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	return p, nil
}

func marshalNames(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("marshal files: %w", err)
	}
	return string(data), nil
}

func unmarshalNames(s string) ([]string, error) {
	names := []string{}
	if s == "" {
		return names, nil
	}
	if err := json.Unmarshal([]byte(s), &names); err != nil {
		return nil, fmt.Errorf("unmarshal files: %w", err)
	}
	return names, nil
}

// Query ids are stored as a JSON array; none reads back as nil.
func marshalIDs(ids []int) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal ids: %w", err)
	}
	return string(data), nil
}

func unmarshalIDs(s string) ([]int, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var ids []int
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal ids: %w", err)
	}
	return ids, nil
}

func parseRange(start, end string) (kernel.TimeRange, error) {
	lo, err := parseTime(start)
	if err != nil {
		return kernel.TimeRange{}, err
	}
	hi, err := parseTime(end)
	if err != nil {
		return kernel.TimeRange{}, err
	}
	return kernel.Between(lo, hi), nil
}
