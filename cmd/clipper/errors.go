package main

import (
	"errors"
	"net/http"

	"github.com/subculture-collective/clipper/auth"
	"github.com/subculture-collective/clipper/feeds"
	"github.com/subculture-collective/clipper/reputation"
	"github.com/subculture-collective/clipper/search"
	"github.com/subculture-collective/clipper/toxicity"
	"github.com/subculture-collective/clipper/watchhistory"
	"github.com/subculture-collective/clipper/webhooks"

	"gorm.io/gorm"
)

var errorStatuses = []struct {
	err  error
	code int
}{
	{gorm.ErrRecordNotFound, http.StatusNotFound},
	{reputation.ErrUserNotFound, http.StatusNotFound},
	{reputation.ErrClipNotFound, http.StatusNotFound},
	{reputation.ErrCommentNotFound, http.StatusNotFound},
	{reputation.ErrUnknownLeaderboard, http.StatusNotFound},
	{watchhistory.ErrUserNotFound, http.StatusNotFound},
	{watchhistory.ErrClipNotFound, http.StatusNotFound},
	{feeds.ErrNotFound, http.StatusNotFound},
	{feeds.ErrClipNotFound, http.StatusNotFound},
	{feeds.ErrClipNotInFeed, http.StatusNotFound},
	{webhooks.ErrNotFound, http.StatusNotFound},
	{toxicity.ErrNotFound, http.StatusNotFound},
	{auth.ErrUserNotFound, http.StatusUnauthorized},

	{auth.ErrInvalidToken, http.StatusUnauthorized},
	{auth.ErrTokenExpired, http.StatusUnauthorized},
	{auth.ErrTokenRevoked, http.StatusUnauthorized},
	{auth.ErrInvalidSigningMethod, http.StatusUnauthorized},

	{auth.ErrUserBanned, http.StatusForbidden},
	{feeds.ErrForbidden, http.StatusForbidden},
	{feeds.ErrPrivateFeed, http.StatusForbidden},
	{webhooks.ErrForbidden, http.StatusForbidden},
	{toxicity.ErrNotContentAuthor, http.StatusForbidden},

	{feeds.ErrDuplicateClip, http.StatusConflict},
	{toxicity.ErrAppealExists, http.StatusConflict},
	{toxicity.ErrAlreadyResolved, http.StatusConflict},
	{webhooks.ErrSubscriptionGone, http.StatusConflict},
	{webhooks.ErrReplayFailed, http.StatusBadGateway},

	{search.ErrInvalidQuery, http.StatusBadRequest},
	{reputation.ErrSelfVote, http.StatusBadRequest},
	{reputation.ErrInvalidVote, http.StatusBadRequest},
	{reputation.ErrInvalidBadge, http.StatusBadRequest},
	{reputation.ErrUnknownActivity, http.StatusBadRequest},
	{reputation.ErrInvalidCommentSort, http.StatusBadRequest},
	{watchhistory.ErrInvalidDuration, http.StatusBadRequest},
	{watchhistory.ErrInvalidFilter, http.StatusBadRequest},
	{feeds.ErrInvalidName, http.StatusBadRequest},
	{feeds.ErrInvalidDescription, http.StatusBadRequest},
	{feeds.ErrInvalidOrder, http.StatusBadRequest},
	{feeds.ErrSelfFollow, http.StatusBadRequest},
	{webhooks.ErrInvalidEvents, http.StatusBadRequest},
	{webhooks.ErrInvalidURL, http.StatusBadRequest},
	{toxicity.ErrInvalidDecision, http.StatusBadRequest},
	{auth.ErrInvalidPKCEParams, http.StatusBadRequest},
	{auth.ErrUnsupportedMethod, http.StatusBadRequest},
	{auth.ErrInvalidState, http.StatusBadRequest},
	{auth.ErrInvalidCodeVerifier, http.StatusBadRequest},
}

// errorStatus maps domain errors to an HTTP status and a client-safe
// message. Unknown errors are internal.
func errorStatus(err error) (int, string) {
	for _, es := range errorStatuses {
		if errors.Is(err, es.err) {
			return es.code, err.Error()
		}
	}
	return http.StatusInternalServerError, err.Error()
}
