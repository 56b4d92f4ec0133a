package memory

// Conversation is one stored user/assistant exchange.
type Conversation struct {
	ID          int64          `json:"id"`
	Timestamp   string         `json:"timestamp"`
	UserMessage string         `json:"user_message"`
	Response    string         `json:"response"`
	ToolsUsed   []string       `json:"tools_used"`
	Context     map[string]any `json:"context,omitempty"`
}

// Activity is a logged assistant action.
type Activity struct {
	ID          int64          `json:"id"`
	Timestamp   string         `json:"timestamp"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

const (
	HitConversation = "conversation"
	HitKnowledge    = "knowledge"
)

// SearchHit is a memory search match. Conversation hits carry User and
// Response; knowledge hits carry FactType and Content.
type SearchHit struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	User      string `json:"user,omitempty"`
	Response  string `json:"response,omitempty"`
	FactType  string `json:"fact_type,omitempty"`
	Content   string `json:"content,omitempty"`
}

type Stats struct {
	Conversations  int `json:"conversations"`
	Facts          int `json:"facts"`
	ProfileEntries int `json:"profile_entries"`
	Activities     int `json:"activities"`
}
