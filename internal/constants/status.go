package constants

// Canvasser presence statuses
const (
	// StatusOnline indicates the agent is running and logging knocks
	StatusOnline = "online"
	// StatusOffline is sent once when the agent shuts down cleanly
	StatusOffline = "offline"
)
