package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAppendAssignsSequentialQueueIDs(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	id1, err := s.Append("A", 1, 1, "one", "one", now)
	require.NoError(t, err)

	id2, err := s.Append("B", 2, 2, "two", "two", now)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, "Q-0001", id1)
	assert.Equal(t, "Q-0002", id2)
}

func TestStoreMarkSentTransitionsOnce(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	queueID, err := s.Append("A", 1, 1, "one", "one", now)
	require.NoError(t, err)

	require.NoError(t, s.MarkSent(queueID, 42, "https://example.invalid/note/42", now))

	err = s.MarkSent(queueID, 43, "https://example.invalid/note/43", now)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestStoreMarkSentUnknownQueueID(t *testing.T) {
	s := newTestStore(t)

	err := s.MarkSent("Q-9999", 1, "url", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreCheckDuplicateRespectsBucketAndRounding(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Append("A", 45.00001, -93.00001, "text", "text", base)
	require.NoError(t, err)

	dup, err := s.CheckDuplicate("A", "text", 45.00002, -93.00002, base.Add(10*time.Second))
	require.NoError(t, err)
	assert.True(t, dup, "expected duplicate within same 120s bucket with matching rounded coordinates")

	notDup, err := s.CheckDuplicate("A", "text", 45.00001, -93.00001, base.Add(200*time.Second))
	require.NoError(t, err)
	assert.False(t, notDup, "expected no duplicate once the dedup bucket has rolled over")
}

func TestStorePendingPageOrdering(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Append("A", 1, 1, "third", "third", base.Add(2*time.Second))
	s.Append("A", 1, 1, "first", "first", base)
	s.Append("A", 1, 1, "second", "second", base.Add(time.Second))

	rows, err := s.PendingPage(10)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	want := []string{"first", "second", "third"}
	for i, r := range rows {
		assert.Equal(t, want[i], r.TextNormalized, "rows[%d]", i)
	}
}

func TestStorePendingPageLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()

	for i := 0; i < 5; i++ {
		s.Append("A", 1, 1, "x", "x", base.Add(time.Duration(i)*time.Second))
	}

	rows, err := s.PendingPage(2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestStoreUnannouncedSentAndMarkAnnounced(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	queueID, _ := s.Append("A", 1, 1, "x", "x", now)
	require.NoError(t, s.MarkSent(queueID, 1, "url", now))

	unannounced, err := s.UnannouncedSent()
	require.NoError(t, err)
	require.Len(t, unannounced, 1)
	assert.Equal(t, queueID, unannounced[0].QueueID)

	require.NoError(t, s.MarkAnnounced(queueID))

	unannounced, err = s.UnannouncedSent()
	require.NoError(t, err)
	assert.Empty(t, unannounced)
}

func TestStoreShiftCreatedAtSkipsNonPending(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pendingID, _ := s.Append("A", 1, 1, "pending", "pending", base)
	sentID, _ := s.Append("A", 1, 1, "sent", "sent", base)
	require.NoError(t, s.MarkSent(sentID, 1, "url", base))

	ids, err := s.PendingIDsCreatedBefore(base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, ids, 1, "only the still-pending row")

	require.NoError(t, s.ShiftCreatedAt(ids, time.Hour))

	rows, err := s.PendingPage(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, pendingID, rows[0].QueueID)
	assert.True(t, rows[0].CreatedAt.Equal(base.Add(time.Hour)))
}

func TestStoreGetSystemStateInitializesOnce(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	st, err := s.GetSystemState(now)
	require.NoError(t, err)
	assert.True(t, st.BootWallclock.Equal(now))
	assert.False(t, st.TimeCorrectionApplied)

	later := now.Add(time.Hour)

	st2, err := s.GetSystemState(later)
	require.NoError(t, err)
	assert.True(t, st2.BootWallclock.Equal(now), "BootWallclock should not change on second call")

	require.NoError(t, s.SetTimeCorrectionApplied())

	st3, err := s.GetSystemState(later)
	require.NoError(t, err)
	assert.True(t, st3.TimeCorrectionApplied)
}

func TestStoreListRecentNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()

	s.Append("A", 1, 1, "first", "first", base)
	s.Append("A", 1, 1, "second", "second", base.Add(time.Second))
	s.Append("A", 1, 1, "third", "third", base.Add(2*time.Second))

	rows, err := s.ListRecent(2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "third", rows[0].TextNormalized)
	assert.Equal(t, "second", rows[1].TextNormalized)
}

func TestStoreSentCountForOrigin(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	id1, _ := s.Append("A", 1, 1, "one", "one", now)
	id2, _ := s.Append("A", 1, 1, "two", "two", now)
	s.Append("B", 1, 1, "other", "other", now)

	require.NoError(t, s.MarkSent(id1, 1, "url1", now))
	require.NoError(t, s.MarkSent(id2, 2, "url2", now))

	count, err := s.SentCountForOrigin("A")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
