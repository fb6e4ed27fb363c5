package domain

// Message roles accepted by the completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message. Messages are immutable once built;
// each orchestration call assembles a fresh sequence from history plus
// new content.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// TextMessage builds a plain text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: NewTextContent(text)}
}
