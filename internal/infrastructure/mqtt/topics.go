package mqtt

import "fmt"

// Topic prefixes for the block engine.
//
// Workspace topics live under graylogic/workspace; UI-facing topics under
// graylogic/ui match the hub's UI channel layout.
const (
	// TopicPrefixWorkspace is the base for all workspace topics.
	TopicPrefixWorkspace = "graylogic/workspace"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"

	// TopicPrefixUI is the base for UI-specific topics.
	TopicPrefixUI = "graylogic/ui"
)

// Topics provides builders for the engine's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topic := topics.WorkspaceBroadcast("doorbell")
//	// Returns: "graylogic/workspace/broadcast/doorbell"
type Topics struct{}

// =============================================================================
// Workspace Topics
// =============================================================================

// WorkspaceBroadcast returns the topic that triggers a named broadcast in
// every loaded tab. The payload becomes the broadcast value.
//
// Example: graylogic/workspace/broadcast/doorbell
func (Topics) WorkspaceBroadcast(key string) string {
	return fmt.Sprintf("%s/broadcast/%s", TopicPrefixWorkspace, key)
}

// WorkspaceTabStatus returns the retained status topic of a tab.
//
// Example: graylogic/workspace/tab/kitchen-lights/status
func (Topics) WorkspaceTabStatus(tabID string) string {
	return fmt.Sprintf("%s/tab/%s/status", TopicPrefixWorkspace, tabID)
}

// WorkspaceNotification returns the topic UI clients receive block
// notifications on.
//
// Example: graylogic/ui/workspace/notification
func (Topics) WorkspaceNotification() string {
	return fmt.Sprintf("%s/workspace/notification", TopicPrefixUI)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllWorkspaceBroadcasts returns a pattern matching every broadcast topic.
//
// Pattern: graylogic/workspace/broadcast/+
func (Topics) AllWorkspaceBroadcasts() string {
	return fmt.Sprintf("%s/broadcast/+", TopicPrefixWorkspace)
}

// BroadcastKey extracts the broadcast name from a topic produced by
// WorkspaceBroadcast. ok is false for any other topic.
func (Topics) BroadcastKey(topic string) (key string, ok bool) {
	prefix := TopicPrefixWorkspace + "/broadcast/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return "", false
	}
	return topic[len(prefix):], true
}
