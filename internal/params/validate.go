package params

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxSerializedBytes caps the serialized size of a parameter tree.
const MaxSerializedBytes = 1 << 20 // 1 MB

var (
	ErrNotSerializable = errors.New("parameters are not serializable")
	ErrTooLarge        = errors.New("parameters exceed maximum serialized size")
)

// Validate rejects malformed parameter trees before any hashing is
// attempted: cyclic structures, values outside the JSON type set, and
// payloads over MaxSerializedBytes. Callers must fix the input rather than
// retry as-is.
func Validate(parameters map[string]any) error {
	b, err := json.Marshal(parameters)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	if len(b) > MaxSerializedBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(b), MaxSerializedBytes)
	}
	return nil
}
