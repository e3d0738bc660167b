package params

import (
	"bytes"
	"fmt"
	"sort"
)

// ExactMatchThreshold is the strict classification threshold. Hash equality
// already covers similarity == 1.0, so this branch only fires in the open
// interval (0.95, 1.0) for collisions and rounding edge cases.
const ExactMatchThreshold = 0.95

// ParameterComparison is the result of classifying two parameter sets.
type ParameterComparison struct {
	IsDuplicate bool     `json:"is_duplicate"`
	Similarity  float64  `json:"similarity"`
	Differences []string `json:"differences"`
}

// Similarity scores two parameter trees in [0, 1]. Both sides are
// canonicalized independently; the score is the fraction of top-level keys
// (over the union of both key sets) whose values are deeply equal. The
// comparison is shallow at the top level: nested values are compared by deep
// equality, not recursively scored. Two empty maps score 1.0; exactly one
// empty map scores 0.0.
func Similarity(a, b map[string]any) float64 {
	ca := Normalize(a)
	cb := Normalize(b)

	if len(ca) == 0 && len(cb) == 0 {
		return 1.0
	}
	if len(ca) == 0 || len(cb) == 0 {
		return 0.0
	}

	matches := 0
	comparisons := 0
	for _, k := range unionKeys(ca, cb) {
		comparisons++
		va, inA := ca[k]
		vb, inB := cb[k]
		if inA && inB && valueEqual(va, vb) {
			matches++
		}
	}
	if comparisons == 0 {
		return 0.0
	}
	return float64(matches) / float64(comparisons)
}

// Differences lists human-readable differences between two parameter trees,
// in sorted key order. The caller is responsible for capping the list.
func Differences(a, b map[string]any) []string {
	ca := Normalize(a)
	cb := Normalize(b)

	var diffs []string
	for _, k := range unionKeys(ca, cb) {
		va, inA := ca[k]
		vb, inB := cb[k]
		switch {
		case !inA && inB:
			diffs = append(diffs, fmt.Sprintf("Missing parameter: %s", k))
		case inA && !inB:
			diffs = append(diffs, fmt.Sprintf("Extra parameter: %s", k))
		case !valueEqual(va, vb):
			diffs = append(diffs, fmt.Sprintf("Different value for: %s", k))
		}
	}
	return diffs
}

// Compare classifies two scoped parameter sets. Hash equality implies
// canonical equality, so it short-circuits to an exact duplicate without
// walking the keys. Otherwise the similarity score is computed and compared
// against ExactMatchThreshold.
func Compare(paramsA, paramsB map[string]any, toolA, toolB, userA, userB string) (ParameterComparison, error) {
	hashA, err := Hash(paramsA, toolA, userA)
	if err != nil {
		return ParameterComparison{}, err
	}
	hashB, err := Hash(paramsB, toolB, userB)
	if err != nil {
		return ParameterComparison{}, err
	}

	if hashA == hashB {
		return ParameterComparison{
			IsDuplicate: true,
			Similarity:  1.0,
			Differences: []string{},
		}, nil
	}

	similarity := Similarity(paramsA, paramsB)
	return ParameterComparison{
		IsDuplicate: similarity > ExactMatchThreshold,
		Similarity:  similarity,
		Differences: Differences(paramsA, paramsB),
	}, nil
}

// valueEqual reports deep equality of two normalized values by comparing
// their canonical encodings.
func valueEqual(a, b any) bool {
	return bytes.Equal(encodeValue(a), encodeValue(b))
}

func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
