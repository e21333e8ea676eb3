// Package cursor implements the opaque pagination tokens used by list
// endpoints. A token encodes a position in the (started_at DESC, id DESC)
// sort order so pages stay stable under concurrent inserts.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Position pins a single row in the stable sort order.
type Position struct {
	StartedAt time.Time `json:"t"`
	ID        uuid.UUID `json:"id"`
}

// Request carries the decoded paging direction for a list query. At most one
// of After/Before is set; both nil means first page.
type Request struct {
	After  *Position
	Before *Position
}

// Page holds the encoded tokens returned alongside a page of results.
type Page struct {
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

const (
	afterPrefix  = "a:"
	beforePrefix = "b:"
)

// Decode parses a client-supplied token. An empty token yields a zero
// Request, which callers treat as the first page.
func Decode(token string) (Request, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Request{}, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Request{}, fmt.Errorf("decode cursor: %w", err)
	}

	payload := string(raw)
	var prefix string
	switch {
	case strings.HasPrefix(payload, afterPrefix):
		prefix = afterPrefix
	case strings.HasPrefix(payload, beforePrefix):
		prefix = beforePrefix
	default:
		return Request{}, errors.New("decode cursor: unknown direction")
	}

	var pos Position
	if err := json.Unmarshal([]byte(strings.TrimPrefix(payload, prefix)), &pos); err != nil {
		return Request{}, fmt.Errorf("decode cursor: %w", err)
	}
	if pos.ID == uuid.Nil {
		return Request{}, errors.New("decode cursor: missing id")
	}

	if prefix == afterPrefix {
		return Request{After: &pos}, nil
	}
	return Request{Before: &pos}, nil
}

// EncodeNext builds the token for the page following pos.
func EncodeNext(pos Position) string {
	return encode(afterPrefix, pos)
}

// EncodePrevious builds the token for the page preceding pos.
func EncodePrevious(pos Position) string {
	return encode(beforePrefix, pos)
}

func encode(prefix string, pos Position) string {
	data, err := json.Marshal(pos)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(append([]byte(prefix), data...))
}
