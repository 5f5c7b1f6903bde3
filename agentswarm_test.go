package agentswarm

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentswarm/runtime/connection"
	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/schema"
)

// incrementingCompletion replies str(parseInt(lastUserContent)+1) after a
// short delay, modeling S1's concurrent-complete scenario.
type incrementingCompletion struct{ delay time.Duration }

func (c *incrementingCompletion) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	time.Sleep(c.delay)
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == model.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	n, _ := strconv.Atoi(last)
	return &model.Response{Content: model.Message{Role: model.RoleAssistant, Content: strconv.Itoa(n + 1)}}, nil
}

// echoCompletion replies with the last user message's content verbatim.
type echoCompletion struct{}

func (echoCompletion) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == model.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	return &model.Response{Content: model.Message{Role: model.RoleAssistant, Content: last}}, nil
}

func TestParallelCompleteOnSharedClientKeepsTurnOrder(t *testing.T) {
	AddCompletion(&schema.Completion{CompletionName: "s1-completion", Client: &incrementingCompletion{delay: time.Millisecond}})
	AddAgent(&schema.Agent{AgentName: "s1-agent", Completion: "s1-completion"})
	AddSwarm(&schema.Swarm{SwarmName: "s1-swarm", DefaultAgent: "s1-agent", AgentList: []string{"s1-agent"}})

	clientID := "s1-client"
	var wg sync.WaitGroup
	results := make([]string, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := Complete(context.Background(), clientID, "s1-swarm", "0")
			require.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, "1", r, "call %d", i)
	}
}

// navigateCompletion returns a single navigate(to) tool call whenever the
// last user message names a target agent, otherwise echoes a plain reply.
type navigateCompletion struct{}

func (navigateCompletion) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	last := req.Messages[len(req.Messages)-1]
	switch last.Content {
	case "sales", "refund":
		return &model.Response{Content: model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{{
				ID:       "nav-1",
				Function: model.FunctionCall{Name: "navigate", Arguments: map[string]any{"to": last.Content}},
			}},
		}}, nil
	default:
		return &model.Response{Content: model.Message{Role: model.RoleAssistant, Content: "reply from " + req.AgentName}}, nil
	}
}

func TestToolDrivenNavigationSwitchesActiveAgent(t *testing.T) {
	clientID := "s2-client"
	swarmName := "s2-swarm"

	navigate := &schema.Tool{
		ToolName: "navigate",
		Call: func(ctx context.Context, dto schema.ToolDTO) (string, error) {
			to, _ := dto.Params.(map[string]any)["to"].(string)
			if err := ChangeAgent(ctx, dto.ClientID, swarmName, to); err != nil {
				return "", err
			}
			return Execute(ctx, dto.ClientID, swarmName, "Navigation complete", model.ModeTool)
		},
	}
	AddTool(navigate)
	AddCompletion(&schema.Completion{CompletionName: "s2-completion", Client: navigateCompletion{}})
	AddAgent(&schema.Agent{AgentName: "s2-triage", Completion: "s2-completion", Tools: []string{"navigate"}})
	AddAgent(&schema.Agent{AgentName: "s2-sales", Completion: "s2-completion"})
	AddAgent(&schema.Agent{AgentName: "s2-refund", Completion: "s2-completion"})
	AddSwarm(&schema.Swarm{
		SwarmName:    swarmName,
		DefaultAgent: "s2-triage",
		AgentList:    []string{"s2-triage", "s2-sales", "s2-refund"},
	})

	out, err := Complete(context.Background(), clientID, swarmName, "sales")
	require.NoError(t, err)
	assert.Equal(t, "reply from s2-sales", out)

	name, err := GetAgentName(context.Background(), clientID, swarmName)
	require.NoError(t, err)
	assert.Equal(t, "s2-sales", name)
}

func TestCancelOutputShortCircuitsComplete(t *testing.T) {
	clientID := "s4-client"
	swarmName := "s4-swarm"
	AddCompletion(&schema.Completion{CompletionName: "s4-completion", Client: &incrementingCompletion{delay: 200 * time.Millisecond}})
	AddAgent(&schema.Agent{AgentName: "s4-agent", Completion: "s4-completion"})
	AddSwarm(&schema.Swarm{SwarmName: swarmName, DefaultAgent: "s4-agent", AgentList: []string{"s4-agent"}})

	done := make(chan string, 1)
	go func() {
		out, err := Complete(context.Background(), clientID, swarmName, "0")
		require.NoError(t, err)
		done <- out
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, CancelOutput(context.Background(), clientID, swarmName))

	select {
	case out := <-done:
		assert.Equal(t, "", out)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancelled output")
	}
}

func TestChangeToPrevAgentFallsBackToDefault(t *testing.T) {
	clientID := "s5-client"
	swarmName := "s5-swarm"
	AddCompletion(&schema.Completion{CompletionName: "s5-completion", Client: echoCompletion{}})
	AddAgent(&schema.Agent{AgentName: "s5-default", Completion: "s5-completion"})
	AddSwarm(&schema.Swarm{SwarmName: swarmName, DefaultAgent: "s5-default", AgentList: []string{"s5-default"}})

	_, err := NewSession(context.Background(), clientID, swarmName)
	require.NoError(t, err)

	name, err := ChangeToPrevAgent(context.Background(), clientID, swarmName)
	require.NoError(t, err)
	assert.Equal(t, "s5-default", name)
}

func TestQueuedMessagesPreserveOrderInRawHistory(t *testing.T) {
	clientID := "s6-client"
	swarmName := "s6-swarm"
	AddCompletion(&schema.Completion{CompletionName: "s6-completion", Client: echoCompletion{}})
	AddAgent(&schema.Agent{AgentName: "s6-agent", Completion: "s6-completion"})
	AddSwarm(&schema.Swarm{SwarmName: swarmName, DefaultAgent: "s6-agent", AgentList: []string{"s6-agent"}})

	for _, msg := range []string{"foo", "bar", "baz"} {
		_, err := Complete(context.Background(), clientID, swarmName, msg)
		require.NoError(t, err)
	}

	raw, err := GetRawHistory(clientID, "s6-agent")
	require.NoError(t, err)

	var assistantContents []string
	for _, m := range raw {
		if m.Role == model.RoleAssistant {
			assistantContents = append(assistantContents, m.Content)
		}
	}
	assert.Equal(t, []string{"foo", "bar", "baz"}, assistantContents)
}

func TestScheduledSessionBatchesMessagesWithinDelayWindow(t *testing.T) {
	clientID := "s7-client"
	swarmName := "s7-swarm"
	AddCompletion(&schema.Completion{CompletionName: "s7-completion", Client: echoCompletion{}})
	AddAgent(&schema.Agent{AgentName: "s7-agent", Completion: "s7-completion"})
	AddSwarm(&schema.Swarm{SwarmName: swarmName, DefaultAgent: "s7-agent", AgentList: []string{"s7-agent"}})

	sched, err := NewScheduledSession(context.Background(), clientID, swarmName, 50*time.Millisecond)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i, msg := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, msg string) {
			defer wg.Done()
			out, err := sched.Complete(context.Background(), msg)
			require.NoError(t, err)
			results[i] = out
		}(i, msg)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	// both messages fell inside the same delay window, so they were
	// coalesced into one turn and every caller observes its one output.
	assert.Equal(t, "a\nb", results[0])
	assert.Equal(t, results[0], results[1])
}

func TestAutoDisposeFiresOnDestroyAfterTimeout(t *testing.T) {
	clientID := "ad-client"
	swarmName := "ad-swarm"
	AddCompletion(&schema.Completion{CompletionName: "ad-completion", Client: echoCompletion{}})
	AddAgent(&schema.Agent{AgentName: "ad-agent", Completion: "ad-completion"})
	AddSwarm(&schema.Swarm{SwarmName: swarmName, DefaultAgent: "ad-agent", AgentList: []string{"ad-agent"}})

	_, err := NewSession(context.Background(), clientID, swarmName)
	require.NoError(t, err)

	destroyed := make(chan struct{})
	MakeAutoDispose(clientID, swarmName, 0, func() { close(destroyed) })

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("auto-dispose never fired")
	}
}

func TestChangeAgentRejectsAgentOutsideSwarm(t *testing.T) {
	clientID := "err-client"
	swarmName := "err-swarm"
	AddCompletion(&schema.Completion{CompletionName: "err-completion", Client: echoCompletion{}})
	AddAgent(&schema.Agent{AgentName: "err-agent", Completion: "err-completion"})
	AddSwarm(&schema.Swarm{SwarmName: swarmName, DefaultAgent: "err-agent", AgentList: []string{"err-agent"}})

	err := ChangeAgent(context.Background(), clientID, swarmName, "nonexistent")
	assert.Error(t, err)
}

func TestStorageRoundTripThroughFacade(t *testing.T) {
	storageName := fmt.Sprintf("facade-storage-%d", time.Now().UnixNano())
	AddStorage(&schema.Storage{StorageName: storageName, Adapter: persistence})
	st, err := GetStorage("facade-client", storageName)
	require.NoError(t, err)
	require.NoError(t, st.Upsert(context.Background(), connection.StorageRecord{ID: "r1", Content: "hello"}))

	got, ok, err := st.Get(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content)
}
