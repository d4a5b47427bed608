package mqtt

// Mosquitto dynamic-security control topics.
const (
	// TopicDynSecControl receives batched control commands.
	TopicDynSecControl = "$CONTROL/dynamic-security/v1"

	// TopicDynSecResponse carries the broker's batched answers.
	TopicDynSecResponse = "$CONTROL/dynamic-security/v1/response"
)
