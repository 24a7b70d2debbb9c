package models

// Command is an inbound chat command after transport-level parsing: the verb
// without its leading slash, its arguments, and the chat it came from.
type Command struct {
	Verb   string
	Args   []string
	ChatID int64
}
