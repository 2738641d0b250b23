package protocol

import "fmt"

// NATS subject constants and helpers.
const (
	SubjectRegistry = "gleanrelay.registry"

	// SubjectAllEvents matches every producer's event subject.
	SubjectAllEvents = "glean.events.>"

	// SubjectAllHeartbeats matches every producer's heartbeat subject.
	SubjectAllHeartbeats = "gleanrelay.heartbeat.>"
)

func SubjectEvents(source string) string {
	return fmt.Sprintf("glean.events.%s", source)
}

func SubjectHeartbeat(producer string) string {
	return fmt.Sprintf("gleanrelay.heartbeat.%s", producer)
}
