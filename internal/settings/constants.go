package settings

// DB config keys and defaults for runtime settings.
const (
	// PolicyLockTTLSecondsKey controls how long a policy lock survives a crashed holder.
	PolicyLockTTLSecondsKey = "POLICY_LOCK_TTL_SECONDS"
	// AdminContactCacheTTLSecondsKey controls how long enterprise admin lookups are cached.
	AdminContactCacheTTLSecondsKey = "ADMIN_CONTACT_CACHE_TTL_SECONDS"
	// RefreshIntervalSecondsKey controls how often the settings snapshot is reloaded.
	RefreshIntervalSecondsKey = "SETTINGS_REFRESH_INTERVAL_SECONDS"
	// DefaultPolicyLockTTLSeconds is the fallback policy lock TTL.
	DefaultPolicyLockTTLSeconds = 300
	// DefaultAdminContactCacheTTLSeconds is the fallback admin lookup cache TTL.
	DefaultAdminContactCacheTTLSeconds = 300
	// DefaultRefreshIntervalSeconds is the fallback snapshot reload interval.
	DefaultRefreshIntervalSeconds = 60
)
