package httpapi

import "time"

// Config defines HTTP API settings.
type Config struct {
	Addr string
	// BasePath mounts the API below a path prefix.
	BasePath   string
	HubHistory int
}

const shutdownTimeout = 5 * time.Second
