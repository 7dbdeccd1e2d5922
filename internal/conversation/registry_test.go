// ABOUTME: Tests for the conversation registry
// ABOUTME: Covers lifecycle, lazy expiry, participant tracking, stale writes, and start races

package conversation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(clock *fakeClock) *Registry {
	return NewRegistry(Options{Timeout: 120 * time.Second, Now: clock.Now})
}

func msg(id, author string, at time.Time) MessageRecord {
	return MessageRecord{
		ID:         id,
		AuthorID:   author,
		AuthorName: "name-" + author,
		Content:    "content " + id,
		Timestamp:  at,
	}
}

func TestRegistry_Get_Unknown(t *testing.T) {
	reg := newTestRegistry(newFakeClock())

	conv, ok := reg.Get("!room:example.org")
	assert.False(t, ok)
	assert.Nil(t, conv)
}

func TestRegistry_Start_SeedsAndSetsParticipant(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	seed := []MessageRecord{
		msg("m1", "@alice:x", clock.Now().Add(-time.Minute)),
		msg("m2", "@bob:x", clock.Now().Add(-30*time.Second)),
	}
	trigger := msg("m3", "@carol:x", clock.Now())
	trigger.MentionsResponder = true

	conv, err := reg.Start("room", trigger, seed)
	require.NoError(t, err)

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "room", conv.ChannelID)
	assert.Equal(t, clock.Now(), conv.StartedAt)
	assert.Equal(t, clock.Now(), conv.LastActivity)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "m3", conv.Messages[2].ID, "trigger should be last")
	assert.Equal(t, map[string]struct{}{"@carol:x": {}}, conv.Participants)
}

func TestRegistry_Start_DropsTriggerDuplicateFromSeed(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	trigger := msg("m2", "@carol:x", clock.Now())
	seed := []MessageRecord{msg("m1", "@alice:x", clock.Now()), trigger}

	conv, err := reg.Start("room", trigger, seed)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "m1", conv.Messages[0].ID)
	assert.Equal(t, "m2", conv.Messages[1].ID)
}

func TestRegistry_Start_Conflict(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	first, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	_, err = reg.Start("room", msg("m2", "@b:x", clock.Now()), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.ConversationID)
}

func TestRegistry_Get_IsPureRead(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	_, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	first, ok := reg.Get("room")
	require.True(t, ok)
	clock.Advance(10 * time.Second)
	second, ok := reg.Get("room")
	require.True(t, ok)

	assert.Equal(t, first, second)
}

func TestRegistry_Get_SnapshotIsolated(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	_, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	snap, ok := reg.Get("room")
	require.True(t, ok)
	snap.Messages[0].Content = "tampered"
	snap.Participants["@mallory:x"] = struct{}{}

	fresh, ok := reg.Get("room")
	require.True(t, ok)
	assert.Equal(t, "content m1", fresh.Messages[0].Content)
	assert.False(t, fresh.HasParticipant("@mallory:x"))
}

func TestRegistry_Expiry_Boundary(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	_, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	clock.Advance(120 * time.Second)
	_, ok := reg.Get("room")
	assert.True(t, ok, "exactly at timeout is still alive")

	clock.Advance(time.Second)
	_, ok = reg.Get("room")
	assert.False(t, ok, "past timeout is expired")

	assert.Equal(t, 0, reg.Stats().Active)
}

func TestRegistry_Expiry_FreshConversationAfterTimeout(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	old, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	clock.Advance(121 * time.Second)
	_, ok := reg.Get("room")
	require.False(t, ok)

	fresh, err := reg.Start("room", msg("m2", "@b:x", clock.Now()), nil)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.True(t, fresh.StartedAt.After(old.StartedAt))
	assert.Len(t, fresh.Messages, 1)
	assert.False(t, fresh.HasParticipant("@a:x"))
}

func TestRegistry_RecordMessage_ExtendsState(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	_, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	conv, err := reg.RecordMessage("room", msg("m2", "@b:x", clock.Now()))
	require.NoError(t, err)

	assert.Len(t, conv.Messages, 2)
	assert.True(t, conv.HasParticipant("@a:x"))
	assert.True(t, conv.HasParticipant("@b:x"))
	assert.Equal(t, clock.Now(), conv.LastActivity)
}

func TestRegistry_RecordMessage_RearmsTimeout(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	_, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	clock.Advance(100 * time.Second)
	_, err = reg.RecordMessage("room", msg("m2", "@a:x", clock.Now()))
	require.NoError(t, err)

	clock.Advance(100 * time.Second)
	_, ok := reg.Get("room")
	assert.True(t, ok, "message should have re-armed the timeout")
}

func TestRegistry_RecordMessage_ResponderNotParticipant(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	_, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	own := msg("m2", "@bot:x", clock.Now())
	own.IsResponder = true
	conv, err := reg.RecordMessage("room", own)
	require.NoError(t, err)

	assert.Len(t, conv.Messages, 2)
	assert.False(t, conv.HasParticipant("@bot:x"))
}

func TestRegistry_RecordMessage_LastActivityMonotonic(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	_, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	latest := clock.Now()
	_, err = reg.RecordMessage("room", msg("m2", "@a:x", latest))
	require.NoError(t, err)

	// Delivered late, stamped earlier.
	conv, err := reg.RecordMessage("room", msg("m3", "@b:x", latest.Add(-15*time.Second)))
	require.NoError(t, err)

	assert.Equal(t, latest, conv.LastActivity)
	assert.Len(t, conv.Messages, 3)
}

func TestRegistry_RecordMessage_NoConversation(t *testing.T) {
	reg := newTestRegistry(newFakeClock())

	_, err := reg.RecordMessage("room", msg("m1", "@a:x", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleRecord))

	_, ok := reg.Get("room")
	assert.False(t, ok, "stale record must not start a conversation")
}

func TestRegistry_RecordMessage_Expired(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	_, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	clock.Advance(121 * time.Second)
	_, err = reg.RecordMessage("room", msg("m2", "@a:x", clock.Now()))
	assert.True(t, errors.Is(err, ErrStaleRecord))
}

func TestRegistry_RecordMessage_DoesNotTouchOtherChannels(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	_, err := reg.Start("room-a", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	_, err = reg.RecordMessage("room-b", msg("m2", "@b:x", clock.Now()))
	require.Error(t, err)

	conv, ok := reg.Get("room-a")
	require.True(t, ok)
	assert.Len(t, conv.Messages, 1)
	assert.False(t, conv.HasParticipant("@b:x"))
}

func TestRegistry_RecordResponse_DoesNotRearmTimeout(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	conv, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	clock.Advance(100 * time.Second)
	err = reg.RecordResponse("room", conv.ID, Turn{MessageID: "m1", Question: "q", Answer: "a"})
	require.NoError(t, err)

	got, ok := reg.Get("room")
	require.True(t, ok)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, clock.Now(), got.Turns[0].AnsweredAt)
	assert.Equal(t, conv.LastActivity, got.LastActivity)

	clock.Advance(21 * time.Second)
	_, ok = reg.Get("room")
	assert.False(t, ok, "responder turns must not extend the conversation")
}

func TestRegistry_RecordResponse_RejectsReplacedConversation(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	old, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)
	reg.End("room")
	_, err = reg.Start("room", msg("m2", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	err = reg.RecordResponse("room", old.ID, Turn{Answer: "late"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleRecord))

	var stale *StaleRecordError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, "record_response", stale.Op)

	conv, _ := reg.Get("room")
	assert.Empty(t, conv.Turns)
}

func TestRegistry_End(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	_, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)

	assert.True(t, reg.End("room"))
	_, ok := reg.Get("room")
	assert.False(t, ok)
	assert.False(t, reg.End("room"))
	assert.False(t, reg.End("never-seen"))
}

func TestRegistry_Sweep(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	for i := 0; i < 3; i++ {
		_, err := reg.Start(fmt.Sprintf("room-%d", i), msg("m", "@a:x", clock.Now()), nil)
		require.NoError(t, err)
	}
	clock.Advance(60 * time.Second)
	_, err := reg.RecordMessage("room-0", msg("m2", "@a:x", clock.Now()))
	require.NoError(t, err)

	clock.Advance(61 * time.Second)
	removed := reg.Sweep()
	assert.Equal(t, 2, removed)

	stats := reg.Stats()
	assert.Equal(t, 1, stats.Channels)
	assert.Equal(t, 1, stats.Active)

	_, ok := reg.Get("room-0")
	assert.True(t, ok)
}

func TestRegistry_Sweep_ThenStartAgain(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	_, err := reg.Start("room", msg("m1", "@a:x", clock.Now()), nil)
	require.NoError(t, err)
	clock.Advance(200 * time.Second)
	require.Equal(t, 1, reg.Sweep())

	_, err = reg.Start("room", msg("m2", "@a:x", clock.Now()), nil)
	require.NoError(t, err)
	_, ok := reg.Get("room")
	assert.True(t, ok)
}

func TestRegistry_ConcurrentStart_SingleWinner(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	const racers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Start("room", msg(fmt.Sprintf("m%d", i), fmt.Sprintf("@u%d:x", i), clock.Now()), nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if errors.Is(err, ErrConflict) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, racers-1, conflicts)
	conv, ok := reg.Get("room")
	require.True(t, ok)
	assert.Len(t, conv.Participants, 1)
}

func TestRegistry_ConcurrentChannels(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(clock)

	const channels = 20
	const perChannel = 25
	var wg sync.WaitGroup
	for c := 0; c < channels; c++ {
		channelID := fmt.Sprintf("room-%d", c)
		_, err := reg.Start(channelID, msg("seed", "@a:x", clock.Now()), nil)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perChannel; i++ {
				_, _ = reg.RecordMessage(channelID, msg(fmt.Sprintf("m%d", i), fmt.Sprintf("@u%d:x", i%5), clock.Now()))
				if i%10 == 0 {
					reg.Sweep()
				}
			}
		}()
	}
	wg.Wait()

	for c := 0; c < channels; c++ {
		conv, ok := reg.Get(fmt.Sprintf("room-%d", c))
		require.True(t, ok)
		assert.Len(t, conv.Messages, perChannel+1)
		assert.Len(t, conv.Participants, 6)
	}
}
