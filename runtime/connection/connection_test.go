package connection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentswarm/runtime/bus"
	"goa.design/agentswarm/runtime/model"
	"goa.design/agentswarm/runtime/persist/fsadapter"
	"goa.design/agentswarm/runtime/schema"
	"goa.design/agentswarm/runtime/telemetry"
	"goa.design/agentswarm/runtime/validate"
)

type stubClient struct{ content string }

func (c *stubClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return &model.Response{Content: model.Message{Role: model.RoleAssistant, Content: c.content}}, nil
}

func newTestServices(t *testing.T) (*Services, *schema.Registries) {
	t.Helper()
	reg := schema.New()
	reg.Completions.Register("c", &schema.Completion{CompletionName: "c", Client: &stubClient{content: "hi"}})
	reg.Agents.Register("triage", &schema.Agent{AgentName: "triage", Completion: "c"})
	reg.Swarms.Register("support", &schema.Swarm{SwarmName: "support", DefaultAgent: "triage", AgentList: []string{"triage"}})

	agentValidate := validate.NewAgents(reg)
	swarmValidate := validate.NewSwarms(reg, agentValidate)
	sessions := validate.NewSessions()

	adapter := fsadapter.New(t.TempDir(), telemetry.NewNoopLogger())
	svc := New(Options{
		Registries:    reg,
		AgentValidate: agentValidate,
		SwarmValidate: swarmValidate,
		Sessions:      sessions,
		Bus:           bus.New(),
		Logger:        telemetry.NewNoopLogger(),
		ActiveStore:   adapter,
		NavStack:      adapter,
	})
	return svc, reg
}

func TestGetAgentIsMemoizedPerClientAndName(t *testing.T) {
	svc, _ := newTestServices(t)
	a1, err := svc.GetAgent(context.Background(), "c1", "triage")
	require.NoError(t, err)
	a2, err := svc.GetAgent(context.Background(), "c1", "triage")
	require.NoError(t, err)
	assert.Same(t, a1, a2)
}

func TestGetAgentRejectsUnregisteredAgent(t *testing.T) {
	svc, _ := newTestServices(t)
	_, err := svc.GetAgent(context.Background(), "c1", "missing")
	assert.Error(t, err)
}

func TestGetSessionExecutesThroughSwarm(t *testing.T) {
	svc, _ := newTestServices(t)
	sess, err := svc.GetSession(context.Background(), "c1", "support", "chat")
	require.NoError(t, err)

	out, err := sess.Execute(context.Background(), "hello", model.ModeUser)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestDisposeAllowsFreshAgentInstance(t *testing.T) {
	svc, _ := newTestServices(t)
	a1, err := svc.GetAgent(context.Background(), "c1", "triage")
	require.NoError(t, err)

	svc.Dispose("c1", "support")

	a2, err := svc.GetAgent(context.Background(), "c1", "triage")
	require.NoError(t, err)
	assert.NotSame(t, a1, a2)
}

func TestStorageUpsertGetListRemove(t *testing.T) {
	reg := schema.New()
	adapter := fsadapter.New(t.TempDir(), telemetry.NewNoopLogger())
	reg.Storages.Register("notes", &schema.Storage{StorageName: "notes", Adapter: adapter})

	svc := New(Options{Registries: reg, AgentValidate: validate.NewAgents(reg), SwarmValidate: validate.NewSwarms(reg, validate.NewAgents(reg))})
	st, err := svc.GetStorage("c1", "notes")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.Upsert(ctx, StorageRecord{ID: "1", Content: "first"}))
	require.NoError(t, st.Upsert(ctx, StorageRecord{ID: "2", Content: "second"}))

	got, ok, err := st.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", got.Content)

	all, err := st.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, st.Remove(ctx, "1"))
	all, err = st.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, "2", all[0].ID)
}

func TestStateGetFallsBackToDefault(t *testing.T) {
	reg := schema.New()
	adapter := fsadapter.New(t.TempDir(), telemetry.NewNoopLogger())
	reg.States.Register("counter", &schema.State{StateName: "counter", Adapter: adapter, Default: 0})

	svc := New(Options{Registries: reg, AgentValidate: validate.NewAgents(reg), SwarmValidate: validate.NewSwarms(reg, validate.NewAgents(reg))})
	state, err := svc.GetState("c1", "counter")
	require.NoError(t, err)

	var n int
	require.NoError(t, state.Get(context.Background(), &n))
	assert.Equal(t, 0, n)

	require.NoError(t, state.Set(context.Background(), 7))
	require.NoError(t, state.Get(context.Background(), &n))
	assert.Equal(t, 7, n)
}
