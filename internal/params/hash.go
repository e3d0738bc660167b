package params

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// AnonymousUser is the scope used when no user ID is supplied.
const AnonymousUser = "anonymous"

// CanonicalJSON serializes the canonical form of a parameter tree. Object
// keys are emitted in sorted order at every nesting level, so two
// semantically identical maps built in different insertion order serialize
// identically.
func CanonicalJSON(parameters map[string]any) ([]byte, error) {
	b, err := json.Marshal(Normalize(parameters))
	if err != nil {
		return nil, fmt.Errorf("serialize canonical parameters: %w", err)
	}
	return b, nil
}

// Hash computes the content hash for a parameter tree scoped to a tool and
// user. The scope is part of the hash input, so identical parameters hashed
// for a different tool or user produce a different digest — cache entries are
// never shared across users or tools.
func Hash(parameters map[string]any, toolSlug, userID string) (string, error) {
	canonical, err := CanonicalJSON(parameters)
	if err != nil {
		return "", err
	}
	if userID == "" {
		userID = AnonymousUser
	}
	scoped := toolSlug + ":" + userID + ":" + string(canonical)
	sum := sha256.Sum256([]byte(scoped))
	return hex.EncodeToString(sum[:]), nil
}
