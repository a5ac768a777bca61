package pagination

import (
	"encoding/base64"
	"encoding/json"

	"gorm.io/gorm"
)

const (
	DefaultLimit = 10
	MaxLimit     = 250
)

type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=10" binding:"gte=0,lte=250"`
}

type Cursor struct {
	ID string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

func (p Pagination) Size() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return p.Limit
	}
}

// Scope orders by column descending and fetches one extra row so
// Page can tell whether another page exists.
func (p Pagination) Scope(column string) (func(*gorm.DB) *gorm.DB, error) {
	var after string
	if p.Cursor != "" {
		c, err := DecodeCursor(p.Cursor)
		if err != nil {
			return nil, err
		}
		after = c.ID
	}

	return func(db *gorm.DB) *gorm.DB {
		if after != "" {
			db = db.Where(column+" < ?", after)
		}
		return db.Order(column + " DESC").Limit(p.Size() + 1)
	}, nil
}

// Page trims the extra row fetched by Scope and builds the page info.
func Page[T any](data []*T, limit int, extractCursor func(*T) string) ([]*T, *PageInfo) {
	if len(data) <= limit {
		return data, &PageInfo{HasMore: false}
	}

	data = data[:limit]
	next, _ := EncodeCursor(Cursor{ID: extractCursor(data[len(data)-1])})

	return data, &PageInfo{
		HasMore:    true,
		NextCursor: next,
	}
}
