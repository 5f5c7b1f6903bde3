package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentswarm/runtime/model"
)

type fakeConverse struct {
	out *bedrockruntime.ConverseOutput
	err error
	got *bedrockruntime.ConverseInput
}

func (f *fakeConverse) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.got = params
	return f.out, f.err
}

func TestClientCompleteRequiresMessages(t *testing.T) {
	fake := &fakeConverse{}
	c, err := New(Options{Client: fake, ModelID: "anthropic.claude-3-sonnet"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &model.Request{})
	assert.Error(t, err)
}

func TestClientCompleteFoldsSystemAndTranslatesOutput(t *testing.T) {
	fake := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "hello"}},
			},
		},
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(4),
			OutputTokens: aws.Int32(2),
			TotalTokens:  aws.Int32(6),
		},
	}}
	c, err := New(Options{Client: fake, ModelID: "anthropic.claude-3-sonnet"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &model.Request{
		AgentName: "support",
		System:    "be concise",
		Messages:  []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content.Content)
	assert.Equal(t, "support", resp.Content.AgentName)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
	require.Len(t, fake.got.System, 1)
	sysBlock, ok := fake.got.System[0].(*brtypes.SystemContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "be concise", sysBlock.Value)
}
