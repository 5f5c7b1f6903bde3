package clientagent

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/schema"
)

// TestToolCallTruncationProperty checks invariant 6 (spec §8): a turn that
// produces n tool calls against an agent declaring maxToolCalls=m dispatches
// exactly min(n, m) of them.
func TestToolCallTruncationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	properties.Property("dispatched tool-call count is min(n, maxToolCalls)", prop.ForAll(
		func(n, m int) bool {
			var invoked []string
			tools := map[string]*schema.Tool{
				"a": {ToolName: "a", Call: func(_ context.Context, dto schema.ToolDTO) (string, error) {
					invoked = append(invoked, dto.ToolID)
					return "ok", nil
				}},
			}
			calls := make([]model.ToolCall, n)
			for i := range calls {
				calls[i] = model.ToolCall{ID: fmt.Sprintf("t%d", i), Function: model.FunctionCall{Name: "a"}}
			}
			completion := &stubCompletion{responses: []*model.Response{{
				Content: model.Message{Role: model.RoleAssistant, ToolCalls: calls},
			}}}
			a := newTestAgent(t, &schema.Agent{
				AgentName: "dispatcher", Completion: "c", Tools: []string{"a"}, MaxToolCalls: m,
			}, tools, completion)

			if err := a.Execute(context.Background(), "go", model.ModeUser); err != nil {
				return false
			}

			want := n
			if m > 0 && m < n {
				want = m
			}
			return len(invoked) == want
		},
		gen.IntRange(0, 8),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}
