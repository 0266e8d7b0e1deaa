package quarry

import (
	"encoding/base64"
	"encoding/json"
)

// Direction is the traversal direction of a cursor-paginated fetch.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
)

// Cursor encodes a stable position in a sorted result set: the sort value of
// the boundary row plus its primary key as tiebreak. SortValue is carried in
// textual form; Postgres coerces it back to the column type when it appears
// in the seek predicate.
type Cursor struct {
	SortValue  string    `json:"s"`
	TiebreakID int64     `json:"id"`
	Direction  Direction `json:"d"`
}

// IsZero reports whether the cursor marks the start of the set.
func (c Cursor) IsZero() bool {
	return c.SortValue == "" && c.TiebreakID == 0
}

// Encode serializes the cursor into an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses an opaque token back into a cursor. Malformed input of
// any kind decodes to the zero cursor so that corrupted or forged tokens
// degrade to first-page behavior instead of failing the request.
func DecodeCursor(token string) Cursor {
	if token == "" {
		return Cursor{}
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}
	}
	switch c.Direction {
	case DirectionForward, DirectionBackward, "":
	default:
		return Cursor{}
	}
	return c
}
