package sessions

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a fresh session identifier: 32 lowercase hex characters.
func NewID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	return strings.ReplaceAll(u.String(), "-", ""), nil
}

// ValidateID returns ErrInvalidIdentifier unless id is non-empty and every
// byte lies in the visible ASCII range 0x21-0x7E.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7E {
			return fmt.Errorf("%w: byte 0x%02x at offset %d", ErrInvalidIdentifier, c, i)
		}
	}
	return nil
}
