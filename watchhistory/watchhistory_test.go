package watchhistory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subculture-collective/clipper/internal/testutil"
	"github.com/subculture-collective/clipper/models"
)

func TestRecordProgress(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testutil.TestDB(t)
	s := NewService(db, nil)

	u := testutil.CreateUser(t, db, "viewer", 0)
	clip := testutil.CreateClip(t, db, "clip", time.Hour, nil)

	ok, err := s.RecordProgress(ctx, u.ID, ProgressUpdate{ClipID: clip.ID, ProgressSeconds: 12, DurationSeconds: 30, SessionID: "s1"})
	require.NoError(t, err)
	assert.True(ok)

	pos, err := s.ResumePosition(ctx, u.ID, clip.ID)
	require.NoError(t, err)
	assert.Equal(ResumePosition{HasProgress: true, ProgressSeconds: 12}, pos)

	// a later update replaces the earlier one, and 90% counts as complete
	_, err = s.RecordProgress(ctx, u.ID, ProgressUpdate{ClipID: clip.ID, ProgressSeconds: 27, DurationSeconds: 30, SessionID: "s2"})
	require.NoError(t, err)
	pos, err = s.ResumePosition(ctx, u.ID, clip.ID)
	require.NoError(t, err)
	assert.Equal(27, pos.ProgressSeconds)
	assert.True(pos.Completed)

	var rows []models.WatchHistory
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal("s2", rows[0].SessionID)

	// progress is clamped into the clip's duration
	_, err = s.RecordProgress(ctx, u.ID, ProgressUpdate{ClipID: clip.ID, ProgressSeconds: 500, DurationSeconds: 30})
	require.NoError(t, err)
	pos, err = s.ResumePosition(ctx, u.ID, clip.ID)
	require.NoError(t, err)
	assert.Equal(30, pos.ProgressSeconds)
	_, err = s.RecordProgress(ctx, u.ID, ProgressUpdate{ClipID: clip.ID, ProgressSeconds: -4, DurationSeconds: 30})
	require.NoError(t, err)
	pos, err = s.ResumePosition(ctx, u.ID, clip.ID)
	require.NoError(t, err)
	assert.Equal(0, pos.ProgressSeconds)
	assert.False(pos.Completed)

	_, err = s.RecordProgress(ctx, u.ID, ProgressUpdate{ClipID: clip.ID, ProgressSeconds: 4, DurationSeconds: 0})
	assert.ErrorIs(err, ErrInvalidDuration)
	_, err = s.RecordProgress(ctx, u.ID, ProgressUpdate{ClipID: uuid.New(), ProgressSeconds: 4, DurationSeconds: 10})
	assert.ErrorIs(err, ErrClipNotFound)
	_, err = s.RecordProgress(ctx, uuid.New(), ProgressUpdate{ClipID: clip.ID, ProgressSeconds: 4, DurationSeconds: 10})
	assert.ErrorIs(err, ErrUserNotFound)

	pos, err = s.ResumePosition(ctx, u.ID, uuid.New())
	require.NoError(t, err)
	assert.False(pos.HasProgress)
}

func TestHistoryDisabled(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testutil.TestDB(t)
	s := NewService(db, nil)

	u := testutil.CreateUser(t, db, "private", 0)
	clip := testutil.CreateClip(t, db, "clip", time.Hour, nil)

	require.NoError(t, s.SetEnabled(ctx, u.ID, false))
	enabled, err := s.Enabled(ctx, u.ID)
	require.NoError(t, err)
	assert.False(enabled)

	ok, err := s.RecordProgress(ctx, u.ID, ProgressUpdate{ClipID: clip.ID, ProgressSeconds: 5, DurationSeconds: 10})
	require.NoError(t, err)
	assert.False(ok)

	history, err := s.History(ctx, u.ID, FilterAll, 0)
	require.NoError(t, err)
	assert.Empty(history)

	assert.ErrorIs(s.SetEnabled(ctx, uuid.New(), true), ErrUserNotFound)
}

func TestHistoryFilters(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testutil.TestDB(t)
	s := NewService(db, nil)

	u := testutil.CreateUser(t, db, "viewer", 0)
	done := testutil.CreateClip(t, db, "done", time.Hour, nil)
	partial := testutil.CreateClip(t, db, "partial", time.Hour, nil)
	opened := testutil.CreateClip(t, db, "opened", time.Hour, nil)

	base := time.Now().Add(-time.Hour)
	record := func(c *models.Clip, progress int, at time.Duration) {
		s.now = func() time.Time { return base.Add(at) }
		_, err := s.RecordProgress(ctx, u.ID, ProgressUpdate{ClipID: c.ID, ProgressSeconds: progress, DurationSeconds: 40})
		require.NoError(t, err)
	}
	record(done, 40, time.Minute)
	record(partial, 10, 2*time.Minute)
	record(opened, 0, 3*time.Minute)

	all, err := s.History(ctx, u.ID, FilterAll, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(opened.ID, all[0].ClipID)
	assert.Equal(done.ID, all[2].ClipID)
	assert.Equal("done", all[2].Clip.Title)
	assert.InDelta(100.0, all[2].ProgressPercent, 1e-9)
	assert.InDelta(25.0, all[1].ProgressPercent, 1e-9)

	completed, err := s.History(ctx, u.ID, FilterCompleted, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(done.ID, completed[0].ClipID)

	inProgress, err := s.History(ctx, u.ID, FilterInProgress, 10)
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(partial.ID, inProgress[0].ClipID)

	limited, err := s.History(ctx, u.ID, "", 2)
	require.NoError(t, err)
	assert.Len(limited, 2)

	_, err = s.History(ctx, u.ID, "abandoned", 10)
	assert.ErrorIs(err, ErrInvalidFilter)

	positions, err := s.ResumePositions(ctx, u.ID, []uuid.UUID{done.ID, partial.ID, uuid.New()})
	require.NoError(t, err)
	assert.Len(positions, 2)
	assert.True(positions[done.ID].Completed)
	assert.Equal(10, positions[partial.ID].ProgressSeconds)

	empty, err := s.ResumePositions(ctx, u.ID, nil)
	require.NoError(t, err)
	assert.Empty(empty)

	n, err := s.Clear(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(int64(3), n)
	all, err = s.History(ctx, u.ID, FilterAll, 0)
	require.NoError(t, err)
	assert.Empty(all)
}

func TestHistoryLimitIsCapped(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testutil.TestDB(t)
	s := NewService(db, nil)

	u := testutil.CreateUser(t, db, "binger", 0)
	for i := range DefaultLimit + 10 {
		c := testutil.CreateClip(t, db, fmt.Sprintf("clip %d", i), time.Hour, nil)
		_, err := s.RecordProgress(ctx, u.ID, ProgressUpdate{ClipID: c.ID, ProgressSeconds: 5, DurationSeconds: 40})
		require.NoError(t, err)
	}

	// oversized limits are capped, not reset to the default
	all, err := s.History(ctx, u.ID, FilterAll, 500)
	require.NoError(t, err)
	assert.Len(all, DefaultLimit+10)

	def, err := s.History(ctx, u.ID, FilterAll, -1)
	require.NoError(t, err)
	assert.Len(def, DefaultLimit)
}
