package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerCoalescesMessagesWithinDelay(t *testing.T) {
	agent := &fakeAgent{}
	sw := &fakeSwarm{agent: agent, output: "batched"}
	s := New("c1", sw, nil)
	defer s.Dispose()

	sched := NewScheduler(s, 30*time.Millisecond)

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i, msg := range []string{"foo", "bar"} {
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

	assert.Len(t, agent.executed, 1, "both messages should join a single Execute call")
	assert.Equal(t, "foo\nbar", agent.executed[0])
	assert.Equal(t, "batched", results[0])
	assert.Equal(t, "batched", results[1])
}

func TestSchedulerStartsFreshBatchAfterFlush(t *testing.T) {
	agent := &fakeAgent{}
	sw := &fakeSwarm{agent: agent, output: "ok"}
	s := New("c1", sw, nil)
	defer s.Dispose()

	sched := NewScheduler(s, 10*time.Millisecond)

	_, err := sched.Complete(context.Background(), "first")
	require.NoError(t, err)
	_, err = sched.Complete(context.Background(), "second")
	require.NoError(t, err)

	require.Len(t, agent.executed, 2)
	assert.Equal(t, "first", agent.executed[0])
	assert.Equal(t, "second", agent.executed[1])
}
