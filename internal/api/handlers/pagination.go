package handlers

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// cursor is the decoded form of the opaque pagination token. It pins the
// position of the last row of the previous page; the next page is everything
// strictly older than it.
type cursor struct {
	T  time.Time `json:"t"`
	ID uuid.UUID `json:"id"`
}

// encodeCursor packs a row position into an opaque URL-safe token
func encodeCursor(t time.Time, id uuid.UUID) string {
	data, _ := json.Marshal(cursor{T: t, ID: id})
	return base64.URLEncoding.EncodeToString(data)
}

// decodeCursor unpacks a pagination token. An empty token is valid and means
// "from the newest row".
func decodeCursor(token string) (time.Time, uuid.UUID, error) {
	if token == "" {
		return time.Time{}, uuid.Nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, uuid.Nil, errors.Wrap(err, "invalid cursor encoding")
	}

	var c cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return time.Time{}, uuid.Nil, errors.Wrap(err, "invalid cursor payload")
	}

	if c.T.IsZero() {
		return time.Time{}, uuid.Nil, errors.New("cursor has no position")
	}

	return c.T, c.ID, nil
}

// parseLimit reads a limit query value and clamps it to the allowed range.
// Absent or unparseable values fall back to the default.
func parseLimit(raw string) int {
	if raw == "" {
		return defaultPageLimit
	}

	limit, err := strconv.Atoi(raw)
	if err != nil {
		return defaultPageLimit
	}

	if limit < 1 {
		return 1
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}
