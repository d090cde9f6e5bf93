package common

const (
	// SessionCookieName carries the signed session claims.
	SessionCookieName = "sk_session"

	// RefreshEligibleCookieName tells the client a refresh may be attempted.
	// It carries no secret.
	RefreshEligibleCookieName = "sk_refresh_eligible"
)

// Refresh token store kinds.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)
