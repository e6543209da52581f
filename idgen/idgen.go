// Package idgen mints opaque task ids.
package idgen

import "github.com/hashicorp/go-uuid"

// Generator mints opaque ids. The zero value is ready to use.
type Generator struct{}

// NewID returns a new random UUID string.
func (Generator) NewID() (string, error) {
	return uuid.GenerateUUID()
}
