package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a task or batch identifier.
// ULIDs sort by creation time, which keeps history listings in submission order.
func NewID() string {
	return ulid.Make().String()
}
