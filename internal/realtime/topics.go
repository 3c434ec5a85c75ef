package realtime

func ConversationsTopic(userID string) string {
	return topic("conversations", userID)
}

func MessagesTopic(conversationID string) string {
	return topic("messages", conversationID)
}

func FriendsTopic(userID string) string {
	return topic("friends", userID)
}

func RequestsTopic(userID string) string {
	return topic("requests", userID)
}

func BlocksTopic(userID string) string {
	return topic("blocks", userID)
}

func PresenceTopic(userID string) string {
	return topic("presence", userID)
}

// topic returns "" for an empty key so that subscriptions on it close immediately.
func topic(prefix, key string) string {
	if key == "" {
		return ""
	}
	return prefix + ":" + key
}
