// Package id generates prefixed, K-sortable identifiers ("pur_01h2x...")
// for entities that have no natural key.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in an id.
type Prefix string

const (
	PrefixPurchase Prefix = "pur" // purchase request
	PrefixTicket   Prefix = "tkt" // support ticket
)

// New returns a fresh id string with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// Valid reports whether s parses as an id with the expected prefix.
// Callback data and commands carry ids from users, so they are checked
// before being used as store keys.
func Valid(s string, expected Prefix) bool {
	tid, err := typeid.Parse(s)
	if err != nil {
		return false
	}
	return tid.Prefix() == string(expected)
}
