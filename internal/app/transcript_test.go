package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/memory"
)

func TestTranscripts(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	transcripts := NewTranscripts(store)

	t.Run("should start empty conversations", func(t *testing.T) {
		conv, err := transcripts.Load(ctx, "new")
		require.NoError(t, err)
		assert.Equal(t, "new", conv.ID)
		assert.Empty(t, conv.Transcript)
	})

	t.Run("should round trip messages and pending handovers", func(t *testing.T) {
		conv := conversation.New("conv-1").WithTurn("1").Append(
			conversation.User("hi"),
			conversation.Assistant("secret").WithSensitive(true),
		).WithClassification(conversation.Handover{Agent: "billing", Reason: "invoice"})
		conv.User = &conversation.Participant{ID: "u-1"}
		require.NoError(t, transcripts.Save(ctx, conv))

		loaded, err := transcripts.Load(ctx, "conv-1")
		require.NoError(t, err)
		require.Len(t, loaded.Transcript, 2)
		assert.Equal(t, conversation.RoleUser, loaded.Transcript[0].Role())
		assert.Equal(t, "1", loaded.Transcript[0].Metadata().TurnID)
		assert.True(t, loaded.Transcript[1].Metadata().Sensitive)
		assert.Equal(t, "u-1", loaded.User.ID)

		target, ok := loaded.HandoverTarget()
		assert.True(t, ok)
		assert.Equal(t, "billing", target)
	})

	t.Run("should reset conversations", func(t *testing.T) {
		require.NoError(t, transcripts.Save(ctx, conversation.New("gone", conversation.User("hi"))))
		require.NoError(t, transcripts.Reset(ctx, "gone"))

		conv, err := transcripts.Load(ctx, "gone")
		require.NoError(t, err)
		assert.Empty(t, conv.Transcript)
	})

	t.Run("should reject unsafe ids", func(t *testing.T) {
		_, err := transcripts.Load(ctx, "a/b")
		assert.Error(t, err)
		assert.Error(t, transcripts.Save(ctx, conversation.New("")))
	})

	t.Run("should expire with the session", func(t *testing.T) {
		require.NoError(t, transcripts.Save(ctx, conversation.New("old", conversation.User("hi"))))
		_, err := store.PurgeShortTerm(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)

		conv, err := transcripts.Load(ctx, "old")
		require.NoError(t, err)
		assert.Empty(t, conv.Transcript)
	})
}

func TestLanes(t *testing.T) {
	ctx := context.Background()
	l := newLanes()

	t.Run("should run other conversations in parallel", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{})
		go func() {
			_ = l.Do(ctx, "a", func(context.Context) error {
				close(started)
				<-release
				return nil
			})
		}()
		<-started

		done := make(chan struct{})
		go func() {
			_ = l.Do(ctx, "b", func(context.Context) error { return nil })
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("lane b waited for lane a")
		}
		close(release)
	})

	t.Run("should give up waiting on cancellation", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(ctx, "busy", func(context.Context) error {
				close(started)
				<-release
				return nil
			})
		}()
		<-started

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := l.Do(cctx, "busy", func(context.Context) error { return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(release)
		wg.Wait()
		assert.Zero(t, l.Active())
	})
}

func TestDedupCache(t *testing.T) {
	now := time.Now()
	dc := newDedupCache(time.Minute)
	dc.now = func() time.Time { return now }

	dc.Set("req-1", Reply{TurnID: "1"})
	reply, ok := dc.Get("req-1")
	assert.True(t, ok)
	assert.Equal(t, "1", reply.TurnID)

	now = now.Add(2 * time.Minute)
	_, ok = dc.Get("req-1")
	assert.False(t, ok)
}
