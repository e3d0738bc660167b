package ai

import "github.com/karanmehta/recheck/internal/ai/core"

var (
	// ErrProviderUnavailable marks transport-level failures talking to the
	// generation backend.
	ErrProviderUnavailable = core.ErrProviderUnavailable
	// ErrInvalidResponse marks backend replies that are not usable JSON.
	ErrInvalidResponse = core.ErrInvalidResponse
)
