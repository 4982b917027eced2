package chat

// Sender identifies who authored a message in the widget transcript.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Fixed bot texts shown by every widget.
const (
	Greeting      = "How would you like to be addressed?"
	NameAck       = "How may I help you today?"
	FallbackReply = "I'm sorry, I couldn't process your request."
)

// Message is a single transcript entry. Values are never mutated once appended.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// UserMessage builds a message authored by the visitor.
func UserMessage(text string) Message {
	return Message{Sender: SenderUser, Text: text}
}

// BotMessage builds a message authored by the bot.
func BotMessage(text string) Message {
	return Message{Sender: SenderBot, Text: text}
}
