package logging

// Component constants for structured logging
const (
	ComponentStartup     = "startup"
	ComponentShutdown    = "shutdown"
	ComponentCLI         = "cli"
	ComponentSession     = "session"
	ComponentDither      = "dither"
	ComponentDatabase    = "database"
	ComponentAPI         = "api"
	ComponentStorage     = "storage"
	ComponentRateLimit   = "ratelimit"
	ComponentMaintenance = "maintenance"
)
