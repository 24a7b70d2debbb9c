package models

// Subscription ties a chat to a target it wants alerts for. Target is either
// a sensor identifier or one of the alert classes (or "*" for everything).
// Subscriptions have set semantics; duplicates collapse.
type Subscription struct {
	ChatID int64  `json:"chat_id"`
	Target string `json:"target"`
}

// OutboundMessage is a chat message queued for delivery. DedupKey suppresses
// duplicate sends of the same logical notification within the dedup window;
// an empty key disables deduplication (used for direct command replies).
type OutboundMessage struct {
	ChatID   int64  `json:"chat_id"`
	Body     string `json:"body"`
	DedupKey string `json:"dedup_key,omitempty"`
}
