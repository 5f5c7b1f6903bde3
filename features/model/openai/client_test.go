package openai

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentswarm/runtime/model"
)

type fakeChat struct {
	resp *openai.ChatCompletion
	err  error
	got  openai.ChatCompletionNewParams
}

func (f *fakeChat) New(_ context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	f.got = params
	return f.resp, f.err
}

func TestClientCompleteRequiresMessages(t *testing.T) {
	fake := &fakeChat{}
	c, err := New(Options{Chat: fake, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &model.Request{})
	assert.Error(t, err)
}

func TestClientCompleteEncodesMessagesAndTools(t *testing.T) {
	fake := &fakeChat{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: "hello"},
		}},
	}}
	c, err := New(Options{Chat: fake, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &model.Request{
		AgentName: "triage",
		System:    "be terse",
		Messages:  []model.Message{{Role: model.RoleUser, Content: "hi"}},
		Tools: []model.ToolDefinition{{
			Name:        "navigate",
			Description: "switch agent",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content.Content)
	assert.Equal(t, "triage", resp.Content.AgentName)
	assert.Len(t, fake.got.Messages, 2)
	assert.Len(t, fake.got.Tools, 1)
}
