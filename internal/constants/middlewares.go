package constants

// MQTT middleware names
const (
	ENVELOPE_MIDDLEWARE = "envelope"
)
