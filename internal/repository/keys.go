package repository

import "time"

const (
	skMeta         = "META#"
	skPrefixMsg    = "MSG#"
	skMetrics      = "METRICS#"
	skPrefixAct    = "ACT#"
	gsiByAssistant = "GSI1"

	itemConversation = "conversation"
	itemMessage      = "message"
	itemMetrics      = "metrics"
	itemActivity     = "activity"

	// Fixed-width so that sort keys order lexicographically by time.
	sortableTime = "2006-01-02T15:04:05.000000000Z07:00"
)

// convPK returns the partition key shared by a conversation and its messages.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func userPK(userID string) string {
	return "USER#" + userID
}

// assistantGSIKey groups a user's conversations with one assistant.
func assistantGSIKey(userID, assistantID string) string {
	return "USER#" + userID + "#ASST#" + assistantID
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(sortableTime)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(sortableTime, s)
}

// msgSK orders messages by creation time; the id suffix keeps keys unique.
func msgSK(ts time.Time, messageID string) string {
	return skPrefixMsg + formatTime(ts) + "#" + messageID
}

func activitySK(ts time.Time, activityID string) string {
	return skPrefixAct + formatTime(ts) + "#" + activityID
}
