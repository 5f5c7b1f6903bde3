package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/persist/fsadapter"
	"goa.design/agentswarm/runtime/schema"
	"goa.design/agentswarm/runtime/telemetry"
)

type fakeAgent struct {
	name   string
	output chan string
}

func newFakeAgent(name string) *fakeAgent { return &fakeAgent{name: name, output: make(chan string, 1)} }

func (f *fakeAgent) Name() string { return f.name }
func (f *fakeAgent) WaitForOutput(ctx context.Context) (string, error) {
	select {
	case v := <-f.output:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
func (f *fakeAgent) Execute(context.Context, string, model.Mode) error { return nil }
func (f *fakeAgent) Run(context.Context, string) (string, error)       { return "", nil }
func (f *fakeAgent) CommitUserMessage(string, model.Mode)               {}
func (f *fakeAgent) CommitAssistantMessage(string)                      {}
func (f *fakeAgent) CommitSystemMessage(string)                         {}
func (f *fakeAgent) CommitToolOutput(string, string)                    {}
func (f *fakeAgent) CommitFlush()                                       {}
func (f *fakeAgent) CommitAgentChange()                                 {}
func (f *fakeAgent) CommitStopTools()                                   {}

func newTestSwarm(t *testing.T, dir string) *Swarm {
	t.Helper()
	adapter := fsadapter.New(dir, telemetry.NewNoopLogger())
	s, err := New(context.Background(), Options{
		ClientID: "c1",
		Schema: &schema.Swarm{
			SwarmName:    "support",
			DefaultAgent: "triage",
			AgentList:    []string{"triage", "sales", "refund"},
		},
		ActiveStore: adapter,
		NavStack:    adapter,
	})
	require.NoError(t, err)
	return s
}

func TestSetAgentNameUpdatesActiveAgentIdentity(t *testing.T) {
	s := newTestSwarm(t, t.TempDir())
	triage, sales := newFakeAgent("triage"), newFakeAgent("sales")
	require.NoError(t, s.SetAgentRef("triage", triage))
	require.NoError(t, s.SetAgentRef("sales", sales))

	require.NoError(t, s.SetAgentName(context.Background(), "sales"))
	assert.Equal(t, "sales", s.GetAgentName())
}

func TestNavigationPopReturnsToPriorAgent(t *testing.T) {
	s := newTestSwarm(t, t.TempDir())
	for _, name := range []string{"triage", "sales", "refund"} {
		require.NoError(t, s.SetAgentRef(name, newFakeAgent(name)))
	}

	require.NoError(t, s.SetAgentName(context.Background(), "triage"))
	require.NoError(t, s.SetAgentName(context.Background(), "sales"))

	popped, err := s.NavigationPop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "triage", popped)
	assert.Equal(t, "triage", s.GetAgentName())
}

func TestCancelOutputShortCircuitsWaitForOutput(t *testing.T) {
	s := newTestSwarm(t, t.TempDir())
	agent := newFakeAgent("triage")
	require.NoError(t, s.SetAgentRef("triage", agent))
	require.NoError(t, s.SetAgentName(context.Background(), "triage"))

	done := make(chan string, 1)
	go func() {
		out, err := s.WaitForOutput(context.Background())
		assert.NoError(t, err)
		done <- out
	}()

	time.Sleep(10 * time.Millisecond)
	s.CancelOutput()

	select {
	case out := <-done:
		assert.Equal(t, "", out)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancelled output")
	}
}

func TestWaitForOutputResubscribesOnAgentChange(t *testing.T) {
	s := newTestSwarm(t, t.TempDir())
	triage, sales := newFakeAgent("triage"), newFakeAgent("sales")
	require.NoError(t, s.SetAgentRef("triage", triage))
	require.NoError(t, s.SetAgentRef("sales", sales))
	require.NoError(t, s.SetAgentName(context.Background(), "triage"))

	done := make(chan string, 1)
	go func() {
		out, err := s.WaitForOutput(context.Background())
		assert.NoError(t, err)
		done <- out
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.SetAgentName(context.Background(), "sales"))
	sales.output <- "sales reply"

	select {
	case out := <-done:
		assert.Equal(t, "sales reply", out)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resubscribed output")
	}
}
