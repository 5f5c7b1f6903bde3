package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentswarm/runtime/model"
)

type fakeMessages struct {
	resp *sdk.Message
	err  error
	got  sdk.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	f.got = params
	return f.resp, f.err
}

func TestClientCompleteRequiresMessages(t *testing.T) {
	fake := &fakeMessages{}
	c, err := New(Options{Messages: fake, DefaultModel: "claude-3-5-sonnet"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &model.Request{})
	assert.Error(t, err)
}

func TestClientCompleteFoldsSystemAndEncodesMessages(t *testing.T) {
	fake := &fakeMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{},
		Usage:   sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}}
	c, err := New(Options{Messages: fake, DefaultModel: "claude-3-5-sonnet"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &model.Request{
		AgentName: "sales",
		System:    "be concise",
		Messages:  []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "sales", resp.Content.AgentName)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Len(t, fake.got.System, 1)
	assert.Equal(t, "be concise", fake.got.System[0].Text)
	assert.Len(t, fake.got.Messages, 1)
}
