package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/chatwidget/backend/internal/logger"
	"github.com/zhouzirui/chatwidget/backend/internal/model/chat"
	"github.com/zhouzirui/chatwidget/backend/internal/service/bot"
)

var (
	ErrNotStarted = errors.New("conversation not started")
	ErrPending    = errors.New("a bot reply is still pending")
	ErrDetached   = errors.New("conversation detached")
)

// Transport forwards a visitor message to the bot.
type Transport interface {
	SendMessage(ctx context.Context, req bot.Request) (bot.Reply, error)
}

// Result describes what a Submit call did.
type Result struct {
	// Ignored is set for blank input; nothing changed.
	Ignored bool
	// Remote is set when the bot endpoint was called.
	Remote bool
	// Discarded is set when the reply arrived after Detach and was dropped.
	Discarded bool
}

// Conversation owns the transcript, phase and session id of one widget.
// All methods are safe for concurrent use; at most one bot call is in flight.
type Conversation struct {
	transport   Transport
	newID       func() string
	observer    func(chat.Snapshot)
	silentEmpty bool

	mu        sync.Mutex
	phase     chat.Phase
	userName  string
	sessionID string
	messages  []chat.Message
	pending   bool
	detached  bool
}

// Option customises a Conversation.
type Option func(*Conversation)

// WithObserver registers fn to receive a snapshot after every state change.
func WithObserver(fn func(chat.Snapshot)) Option {
	return func(c *Conversation) { c.observer = fn }
}

// WithIDGenerator replaces the session id source.
func WithIDGenerator(fn func() string) Option {
	return func(c *Conversation) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithSilentEmptyReply leaves the transcript untouched when the bot answers without text.
// By default such replies are shown as chat.FallbackReply.
func WithSilentEmptyReply() Option {
	return func(c *Conversation) { c.silentEmpty = true }
}

// New creates a conversation that has not started yet.
func New(transport Transport, opts ...Option) *Conversation {
	c := &Conversation{
		transport: transport,
		newID:     uuid.NewString,
		phase:     chat.PhaseAwaitingName,
		messages:  make([]chat.Message, 0, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start initialises the session when the transcript is empty: a session id is
// generated and the greeting is appended. It reports whether it did so.
func (c *Conversation) Start() bool {
	c.mu.Lock()
	if c.detached || len(c.messages) > 0 {
		c.mu.Unlock()
		return false
	}
	c.sessionID = c.newID()
	c.phase = chat.PhaseAwaitingName
	c.userName = ""
	c.messages = append(c.messages, chat.BotMessage(chat.Greeting))
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return true
}

// Submit handles one visitor input. Blank input is ignored. The first accepted
// input is taken as the visitor's name; later inputs are forwarded to the bot and
// Submit returns once the reply has been appended.
func (c *Conversation) Submit(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{Ignored: true}, nil
	}

	c.mu.Lock()
	switch {
	case c.detached:
		c.mu.Unlock()
		return Result{}, ErrDetached
	case c.sessionID == "":
		c.mu.Unlock()
		return Result{}, ErrNotStarted
	case c.pending:
		c.mu.Unlock()
		return Result{}, ErrPending
	}

	c.messages = append(c.messages, chat.UserMessage(text))

	if c.phase == chat.PhaseAwaitingName {
		c.userName = text
		c.messages = append(c.messages, chat.BotMessage(chat.NameAck))
		c.phase = chat.PhaseChatting
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.notify(snap)
		return Result{}, nil
	}

	c.pending = true
	req := bot.Request{UserName: c.userName, SessionID: c.sessionID, Text: text}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	// The call is not cancelled with the caller: a reply always settles pending.
	callCtx := logger.WithLogFields(context.WithoutCancel(ctx), logger.LogFields{SessionID: req.SessionID})
	reply, err := c.transport.SendMessage(callCtx, req)

	c.mu.Lock()
	c.pending = false
	if c.detached {
		c.mu.Unlock()
		slog.InfoContext(callCtx, "discarding bot reply for detached conversation")
		return Result{Remote: true, Discarded: true}, ErrDetached
	}

	if msg, ok := c.replyText(reply, err); ok {
		c.messages = append(c.messages, chat.BotMessage(msg))
	} else {
		slog.WarnContext(callCtx, "bot reply had no text, nothing appended")
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return Result{Remote: true}, nil
}

func (c *Conversation) replyText(reply bot.Reply, err error) (string, bool) {
	if err != nil {
		return chat.FallbackReply, true
	}
	if reply.Found && reply.Text != "" {
		return reply.Text, true
	}
	if c.silentEmpty {
		return "", false
	}
	return chat.FallbackReply, true
}

// Snapshot returns a copy of the current state.
func (c *Conversation) Snapshot() chat.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Detach marks the conversation as torn down. Pending replies are dropped and
// further submits fail with ErrDetached.
func (c *Conversation) Detach() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

// Detached reports whether Detach was called.
func (c *Conversation) Detached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

func (c *Conversation) snapshotLocked() chat.Snapshot {
	messages := make([]chat.Message, len(c.messages))
	copy(messages, c.messages)
	return chat.Snapshot{
		SessionID: c.sessionID,
		Phase:     c.phase,
		UserName:  c.userName,
		Messages:  messages,
		Pending:   c.pending,
	}
}

func (c *Conversation) notify(snap chat.Snapshot) {
	if c.observer != nil {
		c.observer(snap)
	}
}
