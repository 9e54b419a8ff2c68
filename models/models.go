package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

type User struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TwitchID            string     `gorm:"uniqueIndex" json:"twitch_id,omitempty"`
	Username            string     `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName         string     `json:"display_name"`
	Email               string     `json:"-"`
	AvatarURL           *string    `json:"avatar_url,omitempty"`
	Role                string     `gorm:"not null;default:user" json:"role"`
	KarmaPoints         int        `gorm:"not null;default:0;index" json:"karma_points"`
	IsBanned            bool       `gorm:"not null;default:false" json:"is_banned"`
	WatchHistoryEnabled bool       `gorm:"not null" json:"watch_history_enabled"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (u *User) IsModerator() bool {
	return u.Role == RoleModerator || u.Role == RoleAdmin
}

type Clip struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TwitchClipID      string     `gorm:"uniqueIndex" json:"twitch_clip_id"`
	TwitchClipURL     string     `json:"twitch_clip_url"`
	EmbedURL          string     `json:"embed_url"`
	Title             string     `gorm:"not null" json:"title"`
	CreatorName       string     `json:"creator_name"`
	BroadcasterName   string     `gorm:"index" json:"broadcaster_name"`
	GameName          *string    `json:"game_name,omitempty"`
	Language          *string    `json:"language,omitempty"`
	ThumbnailURL      *string    `json:"thumbnail_url,omitempty"`
	Duration          *float64   `json:"duration,omitempty"`
	ViewCount         int        `gorm:"not null;default:0" json:"view_count"`
	VoteScore         int        `gorm:"not null;default:0" json:"vote_score"`
	CommentCount      int        `gorm:"not null;default:0" json:"comment_count"`
	FavoriteCount     int        `gorm:"not null;default:0" json:"favorite_count"`
	IsFeatured        bool       `gorm:"not null;default:false" json:"is_featured"`
	IsNSFW            bool       `gorm:"not null;default:false" json:"is_nsfw"`
	IsRemoved         bool       `gorm:"not null;default:false;index" json:"is_removed"`
	IsHidden          bool       `gorm:"not null;default:false" json:"is_hidden"`
	SubmittedByUserID *uuid.UUID `gorm:"type:uuid;index" json:"submitted_by_user_id,omitempty"`
	TrendingScore     float64    `gorm:"not null;default:0;index" json:"trending_score"`
	HotScore          float64    `gorm:"not null;default:0" json:"hot_score"`
	EngagementCount   int        `gorm:"not null;default:0" json:"engagement_count"`
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`
	ImportedAt        time.Time  `json:"imported_at"`
}

type VoteDir int16

const (
	VoteDirDown = VoteDir(-1)
	VoteDirNone = VoteDir(0)
	VoteDirUp   = VoteDir(1)
)

func (vd VoteDir) String() string {
	switch vd {
	case VoteDirUp:
		return "up"
	case VoteDirDown:
		return "down"
	case VoteDirNone:
		return "none"
	default:
		return "<unknown>"
	}
}

type Vote struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_vote_user_clip" json:"user_id"`
	ClipID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_vote_user_clip;index" json:"clip_id"`
	VoteType  VoteDir   `gorm:"not null" json:"vote_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Comment struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ClipID          uuid.UUID  `gorm:"type:uuid;index" json:"clip_id"`
	UserID          uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	ParentCommentID *uuid.UUID `gorm:"type:uuid" json:"parent_comment_id,omitempty"`
	Content         string     `gorm:"not null" json:"content"`
	VoteScore       int        `gorm:"not null;default:0" json:"vote_score"`
	IsRemoved       bool       `gorm:"not null;default:false" json:"is_removed"`
	RemovedReason   *string    `json:"removed_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type CommentVote struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_comment_vote_user" json:"user_id"`
	CommentID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_comment_vote_user;index" json:"comment_id"`
	VoteType  VoteDir   `gorm:"not null" json:"vote_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Favorite struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_favorite_user_clip" json:"user_id"`
	ClipID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_favorite_user_clip" json:"clip_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Karma sources recorded in KarmaHistory.Source
const (
	KarmaSourceClipVote    = "clip_vote"
	KarmaSourceCommentVote = "comment_vote"
	KarmaSourceAdmin       = "admin_adjustment"
)

type KarmaHistory struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	Amount    int        `gorm:"not null" json:"amount"`
	Source    string     `gorm:"not null" json:"source"`
	SourceID  *uuid.UUID `gorm:"type:uuid" json:"source_id,omitempty"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
}

type UserStats struct {
	UserID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	TrustScore       int        `gorm:"not null;default:0" json:"trust_score"`
	EngagementScore  int        `gorm:"not null;default:0" json:"engagement_score"`
	TotalComments    int        `gorm:"not null;default:0" json:"total_comments"`
	TotalVotesCast   int        `gorm:"not null;default:0" json:"total_votes_cast"`
	TotalClipsSubmit int        `gorm:"column:total_clips_submitted;not null;default:0" json:"total_clips_submitted"`
	CorrectReports   int        `gorm:"not null;default:0" json:"correct_reports"`
	IncorrectReports int        `gorm:"not null;default:0" json:"incorrect_reports"`
	DaysActive       int        `gorm:"not null;default:0" json:"days_active"`
	LastActiveDate   *time.Time `json:"last_active_date,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type UserBadge struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_user_badge" json:"user_id"`
	BadgeID   string     `gorm:"uniqueIndex:idx_user_badge" json:"badge_id"`
	AwardedBy *uuid.UUID `gorm:"type:uuid" json:"awarded_by,omitempty"`
	AwardedAt time.Time  `json:"awarded_at"`
}

type WatchHistory struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_watch_user_clip" json:"user_id"`
	ClipID          uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_watch_user_clip" json:"clip_id"`
	ProgressSeconds int       `gorm:"not null" json:"progress_seconds"`
	DurationSeconds int       `gorm:"not null" json:"duration_seconds"`
	Completed       bool      `gorm:"not null;default:false" json:"completed"`
	SessionID       string    `json:"session_id"`
	WatchedAt       time.Time `gorm:"index" json:"watched_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (WatchHistory) TableName() string {
	return "watch_history"
}

type Feed struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Name          string    `gorm:"not null" json:"name"`
	Description   *string   `json:"description,omitempty"`
	IsPublic      bool      `gorm:"not null;index" json:"is_public"`
	FollowerCount int       `gorm:"not null;default:0" json:"follower_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type FeedItem struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FeedID   uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_feed_item_clip" json:"feed_id"`
	ClipID   uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_feed_item_clip" json:"clip_id"`
	Position int       `gorm:"not null" json:"position"`
	AddedAt  time.Time `json:"added_at"`
}

type FeedFollow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_feed_follow" json:"user_id"`
	FeedID     uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_feed_follow;index" json:"feed_id"`
	FollowedAt time.Time `json:"followed_at"`
}

type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;index"`
	TokenHash string    `gorm:"uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

// AutoMigrate creates or updates every table used by the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Clip{},
		&Vote{},
		&Comment{},
		&CommentVote{},
		&Favorite{},
		&KarmaHistory{},
		&UserStats{},
		&UserBadge{},
		&WatchHistory{},
		&Feed{},
		&FeedItem{},
		&FeedFollow{},
		&RefreshToken{},
		&WebhookSubscription{},
		&WebhookDelivery{},
		&WebhookDeadLetter{},
		&ModerationQueueItem{},
		&ModerationAppeal{},
	)
}
