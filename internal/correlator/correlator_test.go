package correlator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/issueforge/internal/store"
	"github.com/fyrsmithlabs/issueforge/internal/store/memory"
)

const testID = "0b8e4a9c-1111-4222-8333-944455556666"

func fastConfig(attempts int) Config {
	return Config{PollInterval: time.Millisecond, MaxAttempts: attempts}
}

func newChannel() *memory.Store {
	return memory.New(store.Target{Owner: "octo", Repo: "widgets", Issue: 42, Branch: "project-42"})
}

func TestAsk_IgnoresOldMessageAndReturnsMatch(t *testing.T) {
	ch := newChannel()
	t0 := time.Now()

	// A bot reply from before the request must not be picked up.
	ch.AddMessage("agent[bot]", true, "stale answer "+ResponseMarker(testID), t0.Add(-time.Minute))

	ch.SetResponder(func(posted store.Message) (string, bool) {
		id, agent, ok := ParseRequest(posted.Body)
		require.True(t, ok)
		assert.Equal(t, testID, id)
		assert.Equal(t, "planner", agent)
		return ResponseMarker(id) + "\nfresh answer", true
	})

	c := New(ch, fastConfig(3), WithIDGenerator(func() string { return testID }))
	reply, err := c.Ask(context.Background(), "planner", "please plan")
	require.NoError(t, err)
	assert.Equal(t, "fresh answer", reply)
}

func TestAsk_IgnoresRepliesToOtherRequests(t *testing.T) {
	ch := newChannel()
	ch.SetResponder(func(posted store.Message) (string, bool) {
		return ResponseMarker("ffffffff-0000-0000-0000-000000000000") + "\nwrong session", true
	})

	c := New(ch, fastConfig(2), WithIDGenerator(func() string { return testID }))
	_, err := c.Ask(context.Background(), "planner", "please plan")

	var timeout *ResponseTimeoutError
	require.True(t, errors.As(err, &timeout))
}

func TestAsk_FirstChronologicalMatchWins(t *testing.T) {
	ch := newChannel()
	now := time.Now()
	c := New(ch, fastConfig(2), WithIDGenerator(func() string { return testID }), WithClock(func() time.Time { return now }))

	ch.SetResponder(func(posted store.Message) (string, bool) {
		ch.AddMessage("agent[bot]", true, ResponseMarker(testID)+"\nsecond", now.Add(2*time.Second))
		ch.AddMessage("agent[bot]", true, ResponseMarker(testID)+"\nfirst", now.Add(time.Second))
		return "", false
	})

	reply, err := c.Ask(context.Background(), "planner", "q")
	require.NoError(t, err)
	assert.Equal(t, "first", reply)
}

func TestAsk_TimesOutAfterBudget(t *testing.T) {
	ch := newChannel()
	c := New(ch, fastConfig(3), WithIDGenerator(func() string { return testID }))

	_, err := c.Ask(context.Background(), "verifier", "q")

	var timeout *ResponseTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, 3, timeout.Attempts)
	assert.Equal(t, testID, timeout.CorrelationID)
	assert.Equal(t, "verifier", timeout.AgentID)
}

func TestAsk_HonorsContextCancellation(t *testing.T) {
	ch := newChannel()
	c := New(ch, Config{PollInterval: time.Hour, MaxAttempts: 30})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Ask(ctx, "planner", "q")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMarkers(t *testing.T) {
	body := RequestMarker(testID, "architect") + "\nbody"
	id, agent, ok := ParseRequest(body)
	require.True(t, ok)
	assert.Equal(t, testID, id)
	assert.Equal(t, "architect", agent)

	assert.True(t, HasMarker(body))
	assert.True(t, HasMarker(ResponseMarker(testID)))
	assert.True(t, HasMarker(StatusMarker+"\nRestart requested during **verifying**."))
	assert.False(t, HasMarker("please restart"))
}
