package store

import (
	"fmt"

	"github.com/sethvargo/go-password/password"
)

const (
	exportTokenLength = 40
	exportTokenDigits = 10
)

// NewExportToken returns an unguessable URL-safe token for the public block
// feed of one property.
func NewExportToken() (string, error) {
	tok, err := password.Generate(exportTokenLength, exportTokenDigits, 0, false, true)
	if err != nil {
		return "", fmt.Errorf("generate export token: %w", err)
	}
	return tok, nil
}
