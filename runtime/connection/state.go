package connection

import (
	"context"
	"encoding/json"
	"fmt"
)

// State is the connection-layer handle over one named state slot (spec §3's
// StateSchema), scoped either to one client or shared across the swarm.
type State struct {
	name  string
	key   string
	value schemaValueAdapter
	def   any
}

// schemaValueAdapter is the persist.Value subset State needs.
type schemaValueAdapter interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, val any) error
	Remove(ctx context.Context, key string) error
}

func stateScopeKey(stateName, clientID string, shared bool) string {
	if shared {
		return "_state/" + stateName
	}
	return "_state/" + stateName + "/" + clientID
}

// GetState implements the state half of spec §4.9's connection services:
// resolve the named state's schema and return a memoized handle scoped per
// its Shared flag.
func (s *Services) GetState(clientID, stateName string) (*State, error) {
	memoKey := clientID + "-" + stateName
	return s.states.getOrCreate(memoKey, func() (*State, error) {
		st, ok := s.registries.States.Get(stateName)
		if !ok {
			return nil, fmt.Errorf("connection: state %q not registered", stateName)
		}
		if st.Adapter == nil {
			return nil, fmt.Errorf("connection: state %q has no persist.Value adapter configured", stateName)
		}
		if s.sessions != nil {
			s.sessions.UseState(clientID, stateName)
		}
		return &State{
			name:  stateName,
			key:   stateScopeKey(stateName, clientID, st.Shared),
			value: st.Adapter,
			def:   st.Default,
		}, nil
	})
}

// Get decodes the current value into dst. When nothing is stored it decodes
// the state schema's Default into dst, or leaves dst untouched when no
// Default is configured.
func (st *State) Get(ctx context.Context, dst any) error {
	ok, err := st.value.Get(ctx, st.key, dst)
	if err != nil {
		return err
	}
	if ok || st.def == nil {
		return nil
	}
	data, err := json.Marshal(st.def)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// Set stores val, replacing any prior value.
func (st *State) Set(ctx context.Context, val any) error { return st.value.Set(ctx, st.key, val) }

// Clear removes the stored value, reverting subsequent Get calls to the
// schema's Default.
func (st *State) Clear(ctx context.Context) error { return st.value.Remove(ctx, st.key) }
