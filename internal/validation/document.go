package validation

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// BlockTypePattern defines the allowed format of a content block type.
// Lowercase latin letters, digits, underscore and dash, 1-64 characters.
var BlockTypePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// MaxBlockTypeLen is the maximum length of a block type.
const MaxBlockTypeLen = 64

// ValidateDocumentID checks that id is a well-formed UUID.
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("document id must be a valid UUID: %w", err)
	}

	return nil
}

// ValidateOpID checks that the idempotency key is a well-formed UUID.
func ValidateOpID(opID string) error {
	if opID == "" {
		return fmt.Errorf("op_id cannot be empty")
	}

	if _, err := uuid.Parse(opID); err != nil {
		return fmt.Errorf("op_id must be a valid UUID: %w", err)
	}

	return nil
}

// ValidateBlockType checks that a block type matches BlockTypePattern.
// The payload itself is opaque and never validated here.
func ValidateBlockType(blockType string) error {
	if blockType == "" {
		return fmt.Errorf("block type cannot be empty")
	}

	if len(blockType) > MaxBlockTypeLen {
		return fmt.Errorf("block type must not exceed %d characters", MaxBlockTypeLen)
	}

	if !BlockTypePattern.MatchString(blockType) {
		return fmt.Errorf("block type can only contain lowercase letters, numbers, underscores and dashes")
	}

	return nil
}
