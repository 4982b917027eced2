package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/chatwidget/backend/internal/config"
	"github.com/zhouzirui/chatwidget/backend/internal/model/chat"
	"github.com/zhouzirui/chatwidget/backend/internal/service/bot"
	"github.com/zhouzirui/chatwidget/backend/internal/service/conversation"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] no .env loaded, using process environment: %v", err)
	}

	mode := flag.String("mode", "chat", "test mode: send (one raw bot call) or chat (full conversation)")
	configPath := flag.String("config", os.Getenv("CHATWIDGET_CONFIG"), "path to an optional YAML config file")
	name := flag.String("name", "Tester", "visitor name")
	text := flag.String("text", "", "message(s) to send; separate several with '|'")
	session := flag.String("session", "", "session id for -mode=send, generated when empty")
	timeout := flag.Duration("timeout", 45*time.Second, "overall timeout")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if !cfg.Bot.HasCredential() {
		log.Printf("[WARN] BOT_USERNAME/BOT_PASSWORD not set, calling %s without auth", cfg.Bot.Endpoint)
	}

	messages := splitMessages(*text)
	if len(messages) == 0 {
		flag.Usage()
		log.Fatal("provide at least one message with -text")
	}

	client := bot.NewClient(cfg.Bot)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "send":
		runSend(ctx, client, *name, *session, messages)
	case "chat":
		runChat(ctx, client, *name, messages)
	default:
		flag.Usage()
		log.Fatal("use -mode=send or -mode=chat")
	}
}

func runSend(ctx context.Context, client *bot.Client, name, sessionID string, messages []string) {
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	for _, msg := range messages {
		log.Printf("sending: session=%s user=%s text=%q", sessionID, name, msg)
		start := time.Now()
		reply, err := client.SendMessage(ctx, bot.Request{UserName: name, SessionID: sessionID, Text: msg})
		if err != nil {
			log.Printf("[ERROR] bot call failed after %s: %v", time.Since(start), err)
			continue
		}
		log.Printf("reply in %s: found=%t text=%q", time.Since(start), reply.Found, reply.Text)
	}
}

func runChat(ctx context.Context, client *bot.Client, name string, messages []string) {
	conv := conversation.New(client)
	conv.Start()

	inputs := append([]string{name}, messages...)
	for _, input := range inputs {
		if _, err := conv.Submit(ctx, input); err != nil {
			log.Fatalf("submit %q failed: %v", input, err)
		}
	}

	snap := conv.Snapshot()
	log.Printf("session=%s phase=%s", snap.SessionID, snap.Phase)
	for _, m := range snap.Messages {
		who := "bot "
		if m.Sender == chat.SenderUser {
			who = "user"
		}
		fmt.Printf("[%s] %s\n", who, m.Text)
	}
}

func splitMessages(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
