package constants

const (
	// Environment constants
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"

	// Context keys
	ContextKeyUserID   = "user_id"
	ContextKeyUserRole = "user_role"

	// Table names
	TableBufferedNotifications = "buffered_notifications"
	TablePresenceRecords       = "presence_records"
)
