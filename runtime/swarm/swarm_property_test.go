package swarm

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestActiveAgentIdentityProperty checks invariant 4 (spec §8): after
// setAgentName(x) returns, getAgentName() reports x, for any name drawn from
// the swarm's agent list and any number of prior transitions.
func TestActiveAgentIdentityProperty(t *testing.T) {
	names := []string{"triage", "sales", "refund"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("active agent equals the last name set", prop.ForAll(
		func(indices []int) bool {
			s := newTestSwarm(t, t.TempDir())
			for _, n := range names {
				mustSetRef(s, n)
			}
			last := names[0]
			for _, idx := range indices {
				last = names[idx%len(names)]
				if err := s.SetAgentName(context.Background(), last); err != nil {
					return false
				}
			}
			return s.GetAgentName() == last
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

// TestNavigationRoundTripProperty checks invariant 5: for any two distinct
// agents X, Y in the swarm, setAgentName(X); setAgentName(Y);
// navigationPop() leaves the active agent as X.
func TestNavigationRoundTripProperty(t *testing.T) {
	names := []string{"triage", "sales", "refund"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("navigationPop returns to the prior agent", prop.ForAll(
		func(xi, yi int) bool {
			x, y := names[xi%len(names)], names[yi%len(names)]
			if x == y {
				return true
			}
			s := newTestSwarm(t, t.TempDir())
			for _, n := range names {
				mustSetRef(s, n)
			}
			ctx := context.Background()
			if err := s.SetAgentName(ctx, x); err != nil {
				return false
			}
			if err := s.SetAgentName(ctx, y); err != nil {
				return false
			}
			popped, err := s.NavigationPop(ctx)
			if err != nil {
				return false
			}
			return popped == x && s.GetAgentName() == x
		},
		gen.IntRange(0, 2),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

func mustSetRef(s *Swarm, name string) {
	if err := s.SetAgentRef(name, newFakeAgent(name)); err != nil {
		panic(err)
	}
}
