package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Vigil device bus.
//
// All device topics use the flat scheme: vigil/{category}[/{deviceID}].
// Controllers publish events and telemetry on shared topics and listen on
// their own command/config topics.
const (
	// TopicPrefix is the base for all Vigil topics.
	TopicPrefix = "vigil"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "vigil/system"
)

// Topics provides builders for Vigil MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommand("alarm-gate-01")
//	// Returns: "vigil/command/alarm-gate-01"
type Topics struct{}

// DeviceEvent returns the shared topic controllers publish unsolicited
// events on (alarm triggered, armed, disarmed, bengala fired).
//
// Example: vigil/event
func (Topics) DeviceEvent() string {
	return fmt.Sprintf("%s/event", TopicPrefix)
}

// DeviceTelemetry returns the shared topic controllers publish periodic
// state snapshots on.
//
// Example: vigil/telemetry
func (Topics) DeviceTelemetry() string {
	return fmt.Sprintf("%s/telemetry", TopicPrefix)
}

// DeviceCommand returns the topic for commands to a specific controller.
//
// Example: vigil/command/alarm-gate-01
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceReply returns the topic a controller publishes command replies on.
// Replies echo the correlation token of the command they answer.
//
// Example: vigil/reply/alarm-gate-01
func (Topics) DeviceReply(deviceID string) string {
	return fmt.Sprintf("%s/reply/%s", TopicPrefix, deviceID)
}

// AllDeviceReplies returns the wildcard pattern matching every reply topic.
//
// Example: vigil/reply/+
func (Topics) AllDeviceReplies() string {
	return fmt.Sprintf("%s/reply/+", TopicPrefix)
}

// DeviceConfig returns the retained topic for per-controller configuration
// (schedule, bengala mode). Retained so a rebooting controller picks up the
// latest config immediately.
//
// Example: vigil/config/alarm-gate-01
func (Topics) DeviceConfig(deviceID string) string {
	return fmt.Sprintf("%s/config/%s", TopicPrefix, deviceID)
}

// SystemStatus returns the topic for core online/offline status (LWT).
//
// Example: vigil/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// ParseDeviceID extracts the device ID from a per-device topic
// (command, reply or config). Returns false if the topic does not match
// the vigil/{category}/{deviceID} shape.
func ParseDeviceID(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix || parts[2] == "" {
		return "", false
	}
	switch parts[1] {
	case "command", "reply", "config":
		return parts[2], true
	}
	return "", false
}
