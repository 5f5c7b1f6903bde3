package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentswarm/runtime/model"
)

type fakeAgent struct {
	executed  []string
	committed []string
	output    string
	err       error
}

func (f *fakeAgent) Execute(_ context.Context, incoming string, _ model.Mode) error {
	f.executed = append(f.executed, incoming)
	return f.err
}
func (f *fakeAgent) Run(context.Context, string) (string, error) { return "", nil }
func (f *fakeAgent) CommitUserMessage(msg string, _ model.Mode)  { f.committed = append(f.committed, msg) }
func (f *fakeAgent) CommitAssistantMessage(msg string)           { f.committed = append(f.committed, msg) }
func (f *fakeAgent) CommitSystemMessage(msg string)              { f.committed = append(f.committed, msg) }
func (f *fakeAgent) CommitToolOutput(_, content string)          { f.committed = append(f.committed, content) }
func (f *fakeAgent) CommitFlush()                                {}
func (f *fakeAgent) CommitStopTools()                            {}

type fakeSwarm struct {
	agent  *fakeAgent
	output string
	err    error
}

func (f *fakeSwarm) GetAgent() (Agent, error)                          { return f.agent, nil }
func (f *fakeSwarm) WaitForOutput(context.Context) (string, error) { return f.output, f.err }

func TestExecuteReturnsSwarmOutput(t *testing.T) {
	agent := &fakeAgent{}
	sw := &fakeSwarm{agent: agent, output: "hi there"}
	s := New("c1", sw, nil)
	defer s.Dispose()

	out, err := s.Execute(context.Background(), "hello", model.ModeUser)
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
	assert.Equal(t, []string{"hello"}, agent.executed)
}

func TestExecuteSerializesConcurrentCalls(t *testing.T) {
	agent := &fakeAgent{}
	sw := &fakeSwarm{agent: agent, output: "ok"}
	s := New("c1", sw, nil)
	defer s.Dispose()

	done := make(chan struct{}, 3)
	for _, msg := range []string{"foo", "bar", "baz"} {
		msg := msg
		go func() {
			_, _ = s.Execute(context.Background(), msg, model.ModeUser)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for concurrent executes")
		}
	}
	assert.Len(t, agent.executed, 3)
}

func TestCommitUserMessageDelegatesToActiveAgent(t *testing.T) {
	agent := &fakeAgent{}
	sw := &fakeSwarm{agent: agent}
	s := New("c1", sw, nil)
	defer s.Dispose()

	require.NoError(t, s.CommitUserMessage(context.Background(), "noted", model.ModeTool))
	assert.Equal(t, []string{"noted"}, agent.committed)
}

func TestExecutePropagatesAgentError(t *testing.T) {
	agent := &fakeAgent{err: errors.New("boom")}
	sw := &fakeSwarm{agent: agent}
	s := New("c1", sw, nil)
	defer s.Dispose()

	_, err := s.Execute(context.Background(), "hello", model.ModeUser)
	assert.Error(t, err)
}
