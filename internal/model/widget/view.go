package widget

import "github.com/zhouzirui/chatwidget/backend/internal/model/chat"

// Input placeholders shown by the renderer.
const (
	PlaceholderName    = "Enter your name"
	PlaceholderMessage = "Type your message..."
)

// View is everything a renderer needs to draw one mounted widget.
type View struct {
	ID           string        `json:"id"`
	ContainerID  string        `json:"containerId"`
	Open         bool          `json:"open"`
	Teaser       string        `json:"teaser,omitempty"`
	Placeholder  string        `json:"placeholder"`
	Typing       bool          `json:"typing"`
	Conversation chat.Snapshot `json:"conversation"`
}

// PlaceholderFor returns the input hint for the given phase.
func PlaceholderFor(phase chat.Phase) string {
	if phase == chat.PhaseChatting {
		return PlaceholderMessage
	}
	return PlaceholderName
}
