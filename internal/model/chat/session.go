package chat

// Phase is the handshake stage that decides how a submitted text is interpreted.
type Phase string

const (
	PhaseAwaitingName Phase = "awaiting_name"
	PhaseChatting     Phase = "chatting"
)

// Snapshot captures the conversation state of one widget at a point in time.
type Snapshot struct {
	SessionID string    `json:"sessionId"`
	Phase     Phase     `json:"phase"`
	UserName  string    `json:"userName,omitempty"`
	Messages  []Message `json:"messages"`
	Pending   bool      `json:"pending"`
}

// Started reports whether the session has been initialised.
func (s Snapshot) Started() bool {
	return s.SessionID != ""
}
