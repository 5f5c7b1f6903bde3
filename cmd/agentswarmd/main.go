// Command agentswarmd is a minimal terminal connector: it registers a tiny
// two-agent swarm (a triage agent that can hand off to a support agent) and
// drives it from stdin/stdout through the facade's makeConnection bridge.
// Grounded on the teacher's cmd/demo layout (a single main wiring a runtime
// then driving one call through it).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	agentswarm "goa.design/agentswarm"
	"goa.design/agentswarm/features/model/openai"
	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/schema"
	"goa.design/agentswarm/runtime/session"
)

// echoCompletion is the no-API-key fallback: it hands off to "support"
// whenever the user message mentions "help", otherwise echoes the last
// message prefixed with the agent name. It exists so the demo runs without
// network access.
type echoCompletion struct{ agentName string }

func (c echoCompletion) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	last := req.Messages[len(req.Messages)-1]
	if c.agentName == "triage" && strings.Contains(strings.ToLower(last.Content), "help") {
		return &model.Response{Content: model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{{
				ID:       "handoff-1",
				Type:     "function",
				Function: model.FunctionCall{Name: "handoff", Arguments: map[string]any{"to": "support"}},
			}},
		}}, nil
	}
	return &model.Response{Content: model.Message{
		Role:    model.RoleAssistant,
		Content: fmt.Sprintf("[%s] %s", c.agentName, last.Content),
	}}, nil
}

func main() {
	const swarmName = "demo-swarm"
	const clientID = "terminal"

	triageCompletion, supportCompletion := completionsFor(swarmName)
	agentswarm.AddCompletion(&schema.Completion{CompletionName: "triage-completion", Client: triageCompletion})
	agentswarm.AddCompletion(&schema.Completion{CompletionName: "support-completion", Client: supportCompletion})

	agentswarm.AddTool(&schema.Tool{
		ToolName:    "handoff",
		Description: "Hand the conversation off to another agent in the swarm.",
		Call: func(ctx context.Context, dto schema.ToolDTO) (string, error) {
			to, _ := dto.Params.(map[string]any)["to"].(string)
			if err := agentswarm.ChangeAgent(ctx, dto.ClientID, swarmName, to); err != nil {
				return "", err
			}
			return agentswarm.Execute(ctx, dto.ClientID, swarmName, "handoff complete", model.ModeTool)
		},
	})

	agentswarm.AddAgent(&schema.Agent{AgentName: "triage", Completion: "triage-completion", Tools: []string{"handoff"}})
	agentswarm.AddAgent(&schema.Agent{AgentName: "support", Completion: "support-completion"})
	agentswarm.AddSwarm(&schema.Swarm{
		SwarmName:    swarmName,
		DefaultAgent: "triage",
		AgentList:    []string{"triage", "support"},
	})

	ctx := context.Background()
	receive, err := agentswarm.MakeConnection(ctx, clientID, swarmName, func(push session.Push) {
		fmt.Println(push.Data)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentswarmd: connect:", err)
		os.Exit(1)
	}

	fmt.Println("agentswarmd — type a message, Ctrl-D to quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := receive(ctx, line); err != nil {
			fmt.Fprintln(os.Stderr, "agentswarmd:", err)
		}
	}
}

// completionsFor returns a real OpenAI-backed client for both agents when
// OPENAI_API_KEY is set, falling back to the deterministic echoCompletion
// above so the demo still runs offline.
func completionsFor(swarmName string) (model.Client, model.Client) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return echoCompletion{agentName: "triage"}, echoCompletion{agentName: "support"}
	}
	modelName := os.Getenv("OPENAI_MODEL")
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	client, err := openai.NewFromAPIKey(apiKey, modelName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentswarmd: openai:", err, "(falling back to offline mode)")
		return echoCompletion{agentName: "triage"}, echoCompletion{agentName: "support"}
	}
	return client, client
}
