package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/nulzo/model-gateway/internal/prompt"
)

// Seeds the prompt store with a few development prompts so the gateway can be
// exercised end to end without a dashboard.
func main() {
	dsn := flag.String("dsn", "gateway.db", "Prompt store DSN")
	orgID := flag.String("org", "org-dev", "Organization ID to seed under")
	flag.Parse()

	store, err := prompt.NewSQLStore(*dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()

	seeds := []prompt.Version{
		{
			ID:         uuid.New().String(),
			PromptID:   "greeting",
			Model:      "gpt-4o-mini",
			Production: true,
			Body: map[string]any{
				"messages": []any{
					map[string]any{"role": "system", "content": "You are a friendly greeter."},
					map[string]any{"role": "user", "content": "Say hello to {{name}}."},
				},
				"temperature": 0.7,
			},
		},
		{
			ID:          uuid.New().String(),
			PromptID:    "greeting",
			Environment: "staging",
			Model:       "claude-sonnet-4",
			Body: map[string]any{
				"messages": []any{
					map[string]any{"role": "user", "content": "Greet {{name}} in one sentence."},
				},
			},
		},
		{
			ID:         uuid.New().String(),
			PromptID:   "summarizer",
			Model:      "claude-sonnet-4,gpt-4o",
			Production: true,
			Body: map[string]any{
				"messages": []any{
					map[string]any{"role": "system", "content": "Summarize the user's text in {{style}} style."},
					map[string]any{"role": "user", "content": "{{text}}"},
				},
				"max_tokens": 1024,
			},
		},
	}

	for _, v := range seeds {
		if err := store.SeedVersion(ctx, *orgID, v); err != nil {
			log.Printf("seed %s/%s: %v", v.PromptID, v.ID, err)
			continue
		}
		env := v.Environment
		if v.Production {
			env = "production"
		}
		fmt.Printf("Seeded prompt %s (%s) version %s\n", v.PromptID, env, v.ID)
	}
}
