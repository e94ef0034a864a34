// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/kadirpekel/maestro/pkg/agent"
	"github.com/kadirpekel/maestro/pkg/config"
	"github.com/kadirpekel/maestro/pkg/model/factory"
	"github.com/kadirpekel/maestro/pkg/runner"
	"github.com/kadirpekel/maestro/pkg/samples"
	"github.com/kadirpekel/maestro/pkg/server"
	"github.com/kadirpekel/maestro/pkg/session"
)

// ChatCmd runs a terminal chat against a sample entity, without a
// server in between.
type ChatCmd struct {
	Entity string `arg:"" help:"Entity ID to chat with (weather_agent, story_writing, query_generation)."`
	User   string `help:"User ID for the session." default:"default"`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	cleanup, err := initLogging(cli, &cfg.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := promptAPIKey(cfg.Model.Provider); err != nil {
		return err
	}

	llm, err := factory.New(cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}
	defer llm.Close()

	entities, err := samples.Entities(llm)
	if err != nil {
		return fmt.Errorf("failed to build sample entities: %w", err)
	}

	entity := findEntity(entities, c.Entity)
	if entity == nil {
		ids := make([]string, 0, len(entities))
		for _, e := range entities {
			ids = append(ids, e.ID)
		}
		return fmt.Errorf("unknown entity %q (available: %s)", c.Entity, strings.Join(ids, ", "))
	}

	r, err := runner.New(runner.Config{
		AppName:        entity.ID,
		Agent:          entity.Agent,
		SessionService: session.InMemory(),
	})
	if err != nil {
		return err
	}

	return chatLoop(ctx, r, entity, c.User)
}

func findEntity(entities []*server.Entity, id string) *server.Entity {
	for _, e := range entities {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// promptAPIKey asks for the provider's API key on the terminal when
// neither config nor environment supplies one. Input stays hidden.
func promptAPIKey(providerName string) error {
	envVar := apiKeyEnvVar(providerName)
	if envVar == "" || config.ProviderAPIKey(providerName) != "" {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("%s is not set", envVar)
	}

	fmt.Printf("%s is not set. Enter API key: ", envVar)
	key, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	if len(key) == 0 {
		return fmt.Errorf("%s is not set", envVar)
	}
	return os.Setenv(envVar, string(key))
}

func apiKeyEnvVar(providerName string) string {
	switch providerName {
	case "", config.ProviderOpenAI:
		return "OPENAI_API_KEY"
	case config.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case config.ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

func chatLoop(ctx context.Context, r *runner.Runner, entity *server.Entity, userID string) error {
	reader := bufio.NewReader(os.Stdin)
	sessionID := uuid.NewString()

	fmt.Printf("\nChatting with %s (%s)\n", entity.ID, entity.Kind)
	fmt.Println("Commands: /quit or /exit to leave, /new for a fresh session")
	fmt.Println()

	for {
		fmt.Print("You: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			switch input {
			case "/quit", "/exit":
				fmt.Println("Bye")
				return nil
			case "/new":
				sessionID = uuid.NewString()
				fmt.Println("Started a fresh session")
				continue
			default:
				fmt.Printf("Unknown command: %s\n", input)
				continue
			}
		}

		content := agent.NewTextContent(input, a2a.MessageRoleUser)
		runCfg := agent.RunConfig{StreamingMode: agent.StreamingModeSSE}

		printer := newEventPrinter()
		for event, err := range r.Run(ctx, userID, sessionID, content, runCfg) {
			if err != nil {
				fmt.Printf("\nError: %v\n", err)
				break
			}
			printer.print(event)
		}
		fmt.Println()
		fmt.Println()

		if ctx.Err() != nil {
			return nil
		}
	}
}

// eventPrinter renders a run's event stream to the terminal. Partial
// events stream inline; the complete text that follows them is
// skipped so nothing prints twice.
type eventPrinter struct {
	lastAuthor string
	sawPartial bool
}

func newEventPrinter() *eventPrinter {
	return &eventPrinter{}
}

func (p *eventPrinter) print(event *agent.Event) {
	if event.Author != p.lastAuthor {
		fmt.Printf("\n%s: ", event.Author)
		p.lastAuthor = event.Author
		p.sawPartial = false
	}

	for _, call := range event.ToolCalls {
		fmt.Printf("\n  [tool] %s\n", call.Name)
	}

	text := event.TextContent()
	if text == "" {
		return
	}

	if event.Partial {
		fmt.Print(text)
		p.sawPartial = true
		return
	}
	if !p.sawPartial {
		fmt.Print(text)
	}
	if event.TurnComplete {
		p.sawPartial = false
	}
}
