// unadulting/config/config.go
package config

const (
	AppVersion = "0.9.2"

	// Form & Post Limits
	MaxTitleLen    = 160
	MaxBodyLen     = 16000
	MaxUsernameLen = 40
	MaxNotesLen    = 2000

	// Forum defaults
	DefaultPageSize = 10
	MaxPageSize     = 50
	PendingLimit    = 100
	ReportLimit     = 100
	AuditLimit      = 50

	// Client-side action intervals (advisory cadence guard)
	DefaultPostInterval   = "10s"
	DefaultEditInterval   = "10s"
	DefaultReportInterval = "15s"

	// Server-side rate limiting defaults
	DefaultRateLimitEvery  = "5s"
	DefaultRateLimitBurst  = 5
	DefaultRateLimitPrune  = "1h"
	DefaultRateLimitExpire = "24h"

	// Auth
	DefaultAccessTokenTTL = "24h"
	DefaultResetTokenTTL  = "1h"
)
