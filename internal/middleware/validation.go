package middleware

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

const maxIDLength = 256

// ValidateID checks an identifier taken from a URL path. Ids come from the
// backend, so any printable text without slashes is accepted.
func ValidateID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return model.InvalidInput("validate", kind+" ID cannot be empty")
	}
	if len(id) > maxIDLength || !utf8.ValidString(id) {
		return model.InvalidInput("validate", "invalid "+kind+" ID format")
	}
	for _, c := range id {
		if c == '/' || !unicode.IsPrint(c) {
			return model.InvalidInput("validate", "invalid "+kind+" ID format")
		}
	}
	return nil
}

// ValidateDocumentName checks the name of an uploaded PDF.
func ValidateDocumentName(name string) error {
	if err := ValidateID("document", name); err != nil {
		return err
	}
	if !strings.EqualFold(path.Ext(name), ".pdf") {
		return model.InvalidInput("validate", "only PDF documents are supported")
	}
	return nil
}
