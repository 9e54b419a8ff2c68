package search

import (
	"time"

	"github.com/subculture-collective/clipper/models"
)

type ClipDoc struct {
	DocIndexTs      string   `json:"doc_index_ts"`
	ID              string   `json:"id"`
	TwitchClipID    string   `json:"twitch_clip_id"`
	TwitchClipURL   string   `json:"twitch_clip_url"`
	Title           string   `json:"title"`
	CreatorName     string   `json:"creator_name"`
	BroadcasterName string   `json:"broadcaster_name"`
	GameName        *string  `json:"game_name,omitempty"`
	Language        *string  `json:"language,omitempty"`
	ThumbnailURL    *string  `json:"thumbnail_url,omitempty"`
	Duration        *float64 `json:"duration,omitempty"`
	ViewCount       int      `json:"view_count"`
	VoteScore       int      `json:"vote_score"`
	CommentCount    int      `json:"comment_count"`
	FavoriteCount   int      `json:"favorite_count"`
	IsFeatured      bool     `json:"is_featured"`
	IsNSFW          bool     `json:"is_nsfw"`
	TrendingScore   float64  `json:"trending_score"`
	CreatedAt       string   `json:"created_at"`
}

// Returns the search index document ID (`_id`) for this document.
func (d *ClipDoc) DocId() string {
	return d.ID
}

func TransformClip(c *models.Clip) ClipDoc {
	return ClipDoc{
		DocIndexTs:      time.Now().UTC().Format(time.RFC3339),
		ID:              c.ID.String(),
		TwitchClipID:    c.TwitchClipID,
		TwitchClipURL:   c.TwitchClipURL,
		Title:           c.Title,
		CreatorName:     c.CreatorName,
		BroadcasterName: c.BroadcasterName,
		GameName:        c.GameName,
		Language:        c.Language,
		ThumbnailURL:    c.ThumbnailURL,
		Duration:        c.Duration,
		ViewCount:       c.ViewCount,
		VoteScore:       c.VoteScore,
		CommentCount:    c.CommentCount,
		FavoriteCount:   c.FavoriteCount,
		IsFeatured:      c.IsFeatured,
		IsNSFW:          c.IsNSFW,
		TrendingScore:   c.TrendingScore,
		CreatedAt:       c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// indexable reports whether a clip belongs in the search index at all.
func indexable(c *models.Clip) bool {
	return !c.IsRemoved && !c.IsHidden
}
