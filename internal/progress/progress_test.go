package progress

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/launchpad/internal/platform/redisx/redistest"
	"github.com/animus-labs/launchpad/internal/pubsub"
)

func next(t *testing.T, ch <-chan pubsub.Message) Event {
	t.Helper()
	select {
	case msg := <-ch:
		var event Event
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("no progress event")
		return Event{}
	}
}

func TestReporterPublishesAndGuardsRegression(t *testing.T) {
	broker := pubsub.NewMemoryBroker()
	snapshots := NewMemorySnapshots()
	tracker := NewTracker(broker, snapshots, nil)
	ctx := context.Background()

	ch, stop, err := broker.Subscribe(ctx, "project:p1")
	require.NoError(t, err)
	defer stop()

	run := tracker.Run("p1")
	require.NoError(t, run.Progress(ctx, "CREATING_PROJECT", 10, "creating project"))
	event := next(t, ch)
	assert.Equal(t, TypeProgress, event.Type)
	assert.Equal(t, "p1", event.ProjectID)
	assert.Equal(t, 10, event.Progress)

	require.NoError(t, run.Progress(ctx, "RENDERING_TEMPLATE", 30, "rendering"))
	next(t, ch)
	require.NoError(t, run.Progress(ctx, "LOADING_TEMPLATE", 20, "stale"))
	select {
	case msg := <-ch:
		t.Fatalf("regression was published: %s", msg.Payload)
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, 30, run.Last())

	require.NoError(t, run.Detail(ctx, "CREATING_ENVIRONMENTS", "created Staging", "staging", map[string]any{"environmentId": "e1"}))
	detail := next(t, ch)
	assert.Equal(t, TypeDetail, detail.Type)
	assert.Equal(t, 30, detail.Progress)
	assert.Equal(t, "e1", detail.Metadata["environmentId"])

	snap, err := tracker.Snapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, TypeProgress, snap.Type, "details do not replace the snapshot")
	assert.Equal(t, 30, snap.Progress)

	require.NoError(t, run.Completed(ctx, "done", map[string]any{"environments": 3}))
	done := next(t, ch)
	assert.Equal(t, TypeCompleted, done.Type)
	assert.Equal(t, 100, done.Progress)
	assert.EqualValues(t, 3, done.Metadata["environments"])
}

func TestRunsHaveIndependentGuards(t *testing.T) {
	tracker := NewTracker(nil, NewMemorySnapshots(), nil)
	ctx := context.Background()

	a := tracker.Run("p1")
	b := tracker.Run("p2")
	require.NoError(t, a.Progress(ctx, "FINALIZING", 100, ""))
	require.NoError(t, b.Progress(ctx, "CREATING_PROJECT", 10, ""))

	snap, err := tracker.Snapshot(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 10, snap.Progress)
}

func TestFailedKeepsLastProgress(t *testing.T) {
	tracker := NewTracker(nil, NewMemorySnapshots(), nil)
	ctx := context.Background()
	run := tracker.Run("p1")
	require.NoError(t, run.Progress(ctx, "CREATING_ENVIRONMENTS", 50, ""))
	require.NoError(t, run.Failed(ctx, "CREATING_ENVIRONMENTS", errors.New("no environments")))

	snap, err := tracker.Snapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, TypeFailed, snap.Type)
	assert.Equal(t, 50, snap.Progress)
	assert.Equal(t, "no environments", snap.Message)
}

func TestNilTrackerAndReporter(t *testing.T) {
	var tracker *Tracker
	run := tracker.Run("p1")
	require.Nil(t, run)
	require.NoError(t, run.Progress(context.Background(), "X", 10, ""))
	require.NoError(t, run.Completed(context.Background(), "", nil))
	_, err := tracker.Snapshot(context.Background(), "p1")
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestTrackerSubscribe(t *testing.T) {
	broker := pubsub.NewMemoryBroker()
	tracker := NewTracker(broker, nil, nil)
	ctx := context.Background()

	events, stop, err := tracker.Subscribe(ctx, "p1")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, broker.Publish(ctx, "project:p1", []byte("not json")))
	require.NoError(t, tracker.Run("p1").Progress(ctx, "CREATING_PROJECT", 10, "go"))

	select {
	case event := <-events:
		assert.Equal(t, 10, event.Progress)
	case <-time.After(time.Second):
		t.Fatal("no decoded event")
	}
}

func TestMemorySnapshotExpires(t *testing.T) {
	store := NewMemorySnapshots()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.Save(context.Background(), Event{ProjectID: "p1", Progress: 20}))

	store.now = func() time.Time { return base.Add(SnapshotTTL) }
	_, err := store.Load(context.Background(), "p1")
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestRedisSnapshots(t *testing.T) {
	client := redistest.Client(t)
	store, err := NewRedisSnapshots(client)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Event{Type: TypeProgress, ProjectID: "p1", Progress: 70}))
	got, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 70, got.Progress)

	ttl, err := client.TTL(ctx, "project:p1:progress").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	_, err = store.Load(ctx, "p2")
	require.ErrorIs(t, err, ErrNoSnapshot)
}
