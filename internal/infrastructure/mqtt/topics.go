package mqtt

import (
	"strings"
)

// DefaultTopicPrefix is the root of every softbus topic.
const DefaultTopicPrefix = "softbus"

// Topics builds softbus MQTT topic names under a common prefix.
//
//	softbus/group/{group}      group messages relayed between nodes
//	softbus/event/{stage}      dispatch events (sent, processed, ...)
//	softbus/system/status      retained node online/offline status
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// GroupMessage returns the topic a group's messages are relayed on.
//
// Example: softbus/group/status_group
func (t Topics) GroupMessage(group string) string {
	return t.prefix() + "/group/" + group
}

// AllGroupMessages matches every GroupMessage topic.
func (t Topics) AllGroupMessages() string {
	return t.prefix() + "/group/+"
}

// GroupFromTopic extracts the group name from a GroupMessage topic.
func (t Topics) GroupFromTopic(topic string) (string, bool) {
	group, ok := strings.CutPrefix(topic, t.prefix()+"/group/")
	if !ok || group == "" || strings.Contains(group, "/") {
		return "", false
	}
	return group, true
}

// DispatchEvent returns the topic for dispatch events of one stage.
//
// Example: softbus/event/completed
func (t Topics) DispatchEvent(stage string) string {
	return t.prefix() + "/event/" + stage
}

// SystemStatus returns the retained node status topic.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// All matches every softbus topic.
func (t Topics) All() string {
	return t.prefix() + "/#"
}

// validPublishTopic reports whether topic can be published to.
func validPublishTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}
