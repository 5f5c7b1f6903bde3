package clientagent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentswarm/runtime/config"
	"goa.design/agentswarm/runtime/history"
	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/schema"
)

type stubCompletion struct {
	responses []*model.Response
	calls     int
}

func (s *stubCompletion) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	if s.calls >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

func newTestAgent(t *testing.T, agentSchema *schema.Agent, tools map[string]*schema.Tool, completion *stubCompletion) *Agent {
	t.Helper()
	a, err := New(Options{
		ClientID:   "client-1",
		Schema:     agentSchema,
		Tools:      tools,
		History:    history.New(),
		Completion: completion,
	})
	require.NoError(t, err)
	return a
}

func TestExecutePublishesOutputOnValidResponse(t *testing.T) {
	completion := &stubCompletion{responses: []*model.Response{
		{Content: model.Message{Role: model.RoleAssistant, Content: "hello there"}},
	}}
	a := newTestAgent(t, &schema.Agent{AgentName: "greeter", Completion: "c"}, nil, completion)

	done := make(chan string, 1)
	go func() {
		out, err := a.WaitForOutput(context.Background())
		assert.NoError(t, err)
		done <- out
	}()

	err := a.Execute(context.Background(), "hi", model.ModeUser)
	require.NoError(t, err)

	select {
	case out := <-done:
		assert.Equal(t, "hello there", out)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output")
	}
}

func TestExecuteRescuesInvalidOutputWithFlushStrategy(t *testing.T) {
	config.Replace(&config.Config{
		ResqueStrategy:           config.ResqueFlush,
		EmptyOutputPlaceholders:  []string{"placeholder"},
		ToolCallExceptionFlushPrompt: "please retry",
		KeepMessages:             history.DefaultKeepLast,
		ToolCallWatchdog:         time.Second,
	})
	defer config.Replace(config.Default())

	completion := &stubCompletion{responses: []*model.Response{
		{Content: model.Message{Role: model.RoleAssistant, Content: "bad"}},
	}}
	a := newTestAgent(t, &schema.Agent{
		AgentName:  "validator",
		Completion: "c",
		Validate: func(result string) string {
			if result == "bad" {
				return "bad"
			}
			return ""
		},
	}, nil, completion)

	done := make(chan string, 1)
	go func() {
		out, _ := a.WaitForOutput(context.Background())
		done <- out
	}()

	err := a.Execute(context.Background(), "hi", model.ModeUser)
	require.NoError(t, err)

	select {
	case out := <-done:
		assert.Equal(t, "placeholder", out)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rescued output")
	}

	raw := a.history.ToArrayForRaw()
	require.Len(t, raw, 3)
	assert.Equal(t, model.RoleResque, raw[1].Role)
	assert.Equal(t, "please retry", raw[2].Content)
}

func TestExecuteFailsFatallyWhenRescuedOutputIsStillInvalid(t *testing.T) {
	config.Replace(&config.Config{
		ResqueStrategy:               config.ResqueFlush,
		EmptyOutputPlaceholders:      []string{"placeholder"},
		ToolCallExceptionFlushPrompt: "please retry",
		KeepMessages:                 history.DefaultKeepLast,
		ToolCallWatchdog:             time.Second,
	})
	defer config.Replace(config.Default())

	completion := &stubCompletion{responses: []*model.Response{
		{Content: model.Message{Role: model.RoleAssistant, Content: "bad"}},
	}}
	a := newTestAgent(t, &schema.Agent{
		AgentName:  "validator",
		Completion: "c",
		Validate:   func(result string) string { return "still bad: " + result },
	}, nil, completion)

	err := a.Execute(context.Background(), "hi", model.ModeUser)
	require.Error(t, err)

	var rescueErr *RescueFailedError
	require.ErrorAs(t, err, &rescueErr)
	assert.Equal(t, "validator", rescueErr.AgentName)
	assert.Equal(t, "client-1", rescueErr.ClientID)
	assert.Equal(t, "still bad: placeholder", rescueErr.ValidationMessage)
}

func TestDispatchToolCallsTruncatesToMaxToolCalls(t *testing.T) {
	var invoked []string
	tools := map[string]*schema.Tool{
		"a": {ToolName: "a", Call: func(_ context.Context, dto schema.ToolDTO) (string, error) {
			invoked = append(invoked, dto.ToolID)
			return "ok", nil
		}},
	}
	completion := &stubCompletion{responses: []*model.Response{{
		Content: model.Message{
			Role: model.RoleAssistant,
			ToolCalls: []model.ToolCall{
				{ID: "1", Function: model.FunctionCall{Name: "a"}},
				{ID: "2", Function: model.FunctionCall{Name: "a"}},
				{ID: "3", Function: model.FunctionCall{Name: "a"}},
			},
		},
	}}}
	a := newTestAgent(t, &schema.Agent{
		AgentName: "dispatcher", Completion: "c", Tools: []string{"a"}, MaxToolCalls: 2,
	}, tools, completion)

	err := a.Execute(context.Background(), "go", model.ModeUser)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, invoked)
}

func TestDispatchToolCallsStopsOnToolError(t *testing.T) {
	tools := map[string]*schema.Tool{
		"fails": {ToolName: "fails", Call: func(_ context.Context, _ schema.ToolDTO) (string, error) {
			return "", errors.New("boom")
		}},
	}
	completion := &stubCompletion{responses: []*model.Response{
		{Content: model.Message{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
			{ID: "1", Function: model.FunctionCall{Name: "fails"}},
		}}},
	}}
	a := newTestAgent(t, &schema.Agent{AgentName: "erroring", Completion: "c", Tools: []string{"fails"}}, tools, completion)

	done := make(chan string, 1)
	go func() {
		out, _ := a.WaitForOutput(context.Background())
		done <- out
	}()

	err := a.Execute(context.Background(), "go", model.ModeUser)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rescued output after tool error")
	}
}

func TestCommitToolOutputFiresToolCommit(t *testing.T) {
	completion := &stubCompletion{responses: []*model.Response{{Content: model.Message{Content: "x"}}}}
	a := newTestAgent(t, &schema.Agent{AgentName: "commit", Completion: "c"}, nil, completion)

	go func() {
		time.Sleep(10 * time.Millisecond)
		a.CommitToolOutput("tool-1", "result")
	}()

	name, val, err := a.waitForToolSignal(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "toolCommit", name)
	assert.Equal(t, "result", val)
}
