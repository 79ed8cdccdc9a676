package broadcast

import "strings"

const (
	EventQueueJoined     = "queue:joined"
	EventQueueAdvanced   = "queue:advanced"
	EventQueueUpdated    = "queue:updated"
	EventNotificationNew = "notification:new"
)

const (
	queuePrefix        = "queue:"
	userPrefix         = "user:"
	conversationPrefix = "conversation:"
)

func QueueRoom(queueID string) string {
	return queuePrefix + queueID
}

func UserRoom(userID string) string {
	return userPrefix + userID
}

func ConversationRoom(conversationID string) string {
	return conversationPrefix + conversationID
}

// ValidRoom reports whether room has a known kind prefix followed by a
// non-empty id without whitespace.
func ValidRoom(room string) bool {
	for _, prefix := range []string{queuePrefix, userPrefix, conversationPrefix} {
		if id, ok := strings.CutPrefix(room, prefix); ok {
			return id != "" && len(room) <= 128 && !strings.ContainsAny(id, " \t\r\n")
		}
	}
	return false
}
