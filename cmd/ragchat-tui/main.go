package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"ragchat/internal/client"
	"ragchat/internal/tui"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("RAGCHAT_SERVER", "http://localhost:8000"), "API base URL")
	session := flag.String("session", "", "session id to resume (a new one is generated when empty)")
	apiKey := flag.String("api-key", os.Getenv("OPENAI_API_KEY"), "LLM provider API key")
	modelName := flag.String("model", "", "chat model (server default when empty)")
	timeout := flag.Duration("timeout", 2*time.Minute, "per request timeout")
	flag.Parse()

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "an API key is required: pass --api-key or set OPENAI_API_KEY")
		os.Exit(1)
	}
	if *session == "" {
		*session = uuid.NewString()
	}

	c := client.New(*server, *timeout)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	health, err := c.Health(ctx)
	cancel()
	if err != nil {
		log.Fatalf("server unreachable at %s: %v", *server, err)
	}
	if health.Status != "healthy" {
		log.Printf("server reports %s", health.Status)
	}

	m := tui.New(c, tui.Options{
		SessionID: *session,
		APIKey:    *apiKey,
		Model:     *modelName,
		Timeout:   *timeout,
	})
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		log.Fatal(err)
	}
	if fm, ok := final.(tui.Model); ok {
		fmt.Println("session:", fm.SessionID())
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
