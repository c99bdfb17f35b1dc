package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Cursor represents a decoded pagination cursor
type Cursor struct {
	LastID    string
	Timestamp time.Time
}

// PageResult represents a paginated result set
type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

var (
	ErrInvalidCursor = errors.New("invalid cursor format")
)

// EncodeCursor creates a base64-encoded cursor from the last item ID and timestamp
func EncodeCursor(lastID string, timestamp time.Time) string {
	if lastID == "" {
		return ""
	}
	raw := lastID + "|" + timestamp.UTC().Format(time.RFC3339Nano)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor decodes a base64-encoded cursor and returns the last ID and timestamp
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	// Document IDs may contain "|", the timestamp never does.
	i := strings.LastIndex(string(decoded), "|")
	if i <= 0 {
		return nil, ErrInvalidCursor
	}

	timestamp, err := time.Parse(time.RFC3339Nano, string(decoded[i+1:]))
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{
		LastID:    string(decoded[:i]),
		Timestamp: timestamp,
	}, nil
}

// ClampLimit maps a requested page size onto [1, MaxLimit]; non-positive
// selects DefaultLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// Page slices an ordered in-memory list. The page starts after the item
// named by cursor; if that item is gone, it starts at the first item newer
// than the cursor timestamp.
func Page[T any](items []T, cursor *Cursor, limit int, getID func(T) string, getTimestamp func(T) time.Time) PageResult[T] {
	limit = ClampLimit(limit)

	start := 0
	if cursor != nil {
		start = len(items)
		found := false
		for i, item := range items {
			if getID(item) == cursor.LastID {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			for i, item := range items {
				if getTimestamp(item).After(cursor.Timestamp) {
					start = i
					break
				}
			}
		}
	}

	end := min(start+limit, len(items))
	page := PageResult[T]{Items: items[start:end], HasMore: end < len(items)}
	if page.Items == nil {
		page.Items = []T{}
	}
	if page.HasMore {
		page.Cursor = CreateNextCursor(page.Items, limit, getID, getTimestamp)
	}
	return page
}

// CreateNextCursor creates a cursor for the next page based on the last item
// Returns empty string if there are no more items
func CreateNextCursor[T any](items []T, limit int, getID func(T) string, getTimestamp func(T) time.Time) string {
	if len(items) == 0 || len(items) < limit {
		return ""
	}
	lastItem := items[len(items)-1]
	return EncodeCursor(getID(lastItem), getTimestamp(lastItem))
}
