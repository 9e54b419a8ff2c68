package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
)

func CreateUser(t testing.TB, db *gorm.DB, username string, karma int) *models.User {
	t.Helper()
	u := &models.User{
		ID:                  uuid.New(),
		TwitchID:            "twitch-" + username,
		Username:            username,
		DisplayName:         username,
		Role:                models.RoleUser,
		KarmaPoints:         karma,
		WatchHistoryEnabled: true,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// CreateClip inserts a clip created age ago, optionally submitted by a user.
func CreateClip(t testing.TB, db *gorm.DB, title string, age time.Duration, submitter *models.User) *models.Clip {
	t.Helper()
	id := uuid.New()
	c := &models.Clip{
		ID:              id,
		TwitchClipID:    "clip-" + id.String(),
		TwitchClipURL:   "https://clips.twitch.tv/" + id.String(),
		Title:           title,
		CreatorName:     "creator",
		BroadcasterName: "broadcaster",
		CreatedAt:       time.Now().Add(-age),
		ImportedAt:      time.Now(),
	}
	if submitter != nil {
		c.SubmittedByUserID = &submitter.ID
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

func CreateComment(t testing.TB, db *gorm.DB, clip *models.Clip, author *models.User, content string) *models.Comment {
	t.Helper()
	c := &models.Comment{
		ID:      uuid.New(),
		ClipID:  clip.ID,
		UserID:  author.ID,
		Content: content,
	}
	require.NoError(t, db.Create(c).Error)
	return c
}
