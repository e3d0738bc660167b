package cache

import "fmt"

// GenerationLockKey guards the check-miss → generate → save critical section
// for one (user, parameter hash) pair.
func GenerationLockKey(userID, parameterHash string) string {
	return fmt.Sprintf("genlock:%s:%s", userID, parameterHash)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func UserStatsKey(userID string) string {
	return fmt.Sprintf("stats:%s", userID)
}
