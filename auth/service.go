package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
)

var (
	ErrInvalidPKCEParams   = errors.New("code_challenge and code_challenge_method must be provided together")
	ErrUnsupportedMethod   = errors.New("unsupported code_challenge_method, only S256 is accepted")
	ErrInvalidState        = errors.New("invalid state parameter")
	ErrInvalidCodeVerifier = errors.New("invalid code verifier")
	ErrUserBanned          = errors.New("user is banned")
	ErrUserNotFound        = errors.New("user not found")
	ErrTokenRevoked        = errors.New("refresh token has been revoked")
)

const (
	PKCEMethodS256 = "S256"
	StateTTL       = 5 * time.Minute
)

type Config struct {
	DB       *gorm.DB
	Tokens   *TokenManager
	States   StateStore
	Provider Provider
	Logger   *slog.Logger
}

type Service struct {
	db       *gorm.DB
	tokens   *TokenManager
	states   StateStore
	provider Provider
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	states := cfg.States
	if states == nil {
		states = NewMemStateStore(10_000, StateTTL)
	}
	return &Service{
		db:       cfg.DB,
		tokens:   cfg.Tokens,
		states:   states,
		provider: cfg.Provider,
		logger:   logger.With("component", "auth"),
		now:      time.Now,
	}
}

func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

// pending authorization request, stored under its state
type authRequest struct {
	Challenge string `json:"challenge,omitempty"`
	Method    string `json:"method,omitempty"`
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// S256Challenge derives the PKCE challenge for a verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func verifyPKCE(verifier, challenge string) bool {
	computed := S256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// GenerateAuthURL starts a login. When the client supplies a PKCE challenge it
// is remembered with the state and the verifier becomes mandatory at
// callback. An empty clientState gets a random one; the state in use is
// returned alongside the provider URL.
func (s *Service) GenerateAuthURL(ctx context.Context, challenge, method, clientState string) (string, string, error) {
	if (challenge == "") != (method == "") {
		return "", "", ErrInvalidPKCEParams
	}
	if method != "" && method != PKCEMethodS256 {
		return "", "", ErrUnsupportedMethod
	}

	state := clientState
	if state == "" {
		var err error
		if state, err = randomState(); err != nil {
			return "", "", fmt.Errorf("generating state: %w", err)
		}
	}
	val, err := json.Marshal(authRequest{Challenge: challenge, Method: method})
	if err != nil {
		return "", "", err
	}
	if err := s.states.Put(ctx, state, string(val), StateTTL); err != nil {
		return "", "", fmt.Errorf("storing oauth state: %w", err)
	}
	return s.provider.AuthorizeURL(state), state, nil
}

type Session struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
}

// HandleCallback completes a login: it consumes the state, checks the PKCE
// verifier, exchanges the code and issues tokens for the upserted user.
func (s *Service) HandleCallback(ctx context.Context, code, state, verifier string) (*Session, error) {
	if state == "" {
		return nil, ErrInvalidState
	}
	raw, ok, err := s.states.Take(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("loading oauth state: %w", err)
	}
	if !ok {
		loginsTotal.WithLabelValues("invalid_state").Inc()
		return nil, ErrInvalidState
	}
	var req authRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, ErrInvalidState
	}
	if req.Challenge != "" {
		if verifier == "" || !verifyPKCE(verifier, req.Challenge) {
			loginsTotal.WithLabelValues("invalid_verifier").Inc()
			return nil, ErrInvalidCodeVerifier
		}
	}

	ident, err := s.provider.Exchange(ctx, code)
	if err != nil {
		loginsTotal.WithLabelValues("provider_error").Inc()
		return nil, err
	}
	user, err := s.upsertUser(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}
	if user.IsBanned {
		loginsTotal.WithLabelValues("banned").Inc()
		return nil, ErrUserBanned
	}

	sess, err := s.issue(ctx, s.db.WithContext(ctx), user)
	if err != nil {
		return nil, err
	}
	loginsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("user logged in", "user", user.ID, "username", user.Username)
	return sess, nil
}

func (s *Service) upsertUser(ctx context.Context, ident *Identity) (*models.User, error) {
	now := s.now()
	var user models.User
	err := s.db.WithContext(ctx).Where("twitch_id = ?", ident.ProviderID).Take(&user).Error
	switch {
	case err == nil:
		user.Username = ident.Login
		user.DisplayName = ident.DisplayName
		user.Email = ident.Email
		if ident.AvatarURL != "" {
			user.AvatarURL = &ident.AvatarURL
		}
		user.LastLoginAt = &now
		err = s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).
			Select("username", "display_name", "email", "avatar_url", "last_login_at", "updated_at").
			Updates(&user).Error
		return &user, err
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	user = models.User{
		ID:                  uuid.New(),
		TwitchID:            ident.ProviderID,
		Username:            ident.Login,
		DisplayName:         ident.DisplayName,
		Email:               ident.Email,
		Role:                models.RoleUser,
		WatchHistoryEnabled: true,
		LastLoginAt:         &now,
	}
	if ident.AvatarURL != "" {
		user.AvatarURL = &ident.AvatarURL
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) issue(ctx context.Context, db *gorm.DB, user *models.User) (*Session, error) {
	access, err := s.tokens.GenerateAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, claims, err := s.tokens.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	err = db.Create(&models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: HashTokenID(claims.ID),
		ExpiresAt: claims.ExpiresAt.Time,
		CreatedAt: s.now(),
	}).Error
	if err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}
	return &Session{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued. Presenting an already revoked token revokes every
// outstanding refresh token of that user.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.tokens.ValidateToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, ErrInvalidToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidToken
	}
	hash := HashTokenID(claims.ID)
	now := s.now()

	var sess *Session
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored models.RefreshToken
		err := tx.Where("token_hash = ?", hash).Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		if stored.UserID != userID {
			return ErrInvalidToken
		}
		if now.After(stored.ExpiresAt) {
			return ErrTokenExpired
		}
		res := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", stored.ID).
			UpdateColumn("revoked_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTokenRevoked
		}

		var user models.User
		err = tx.Where("id = ?", userID).Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if user.IsBanned {
			return ErrUserBanned
		}
		sess, err = s.issue(ctx, tx, &user)
		return err
	})
	if errors.Is(err, ErrTokenRevoked) {
		refreshReuse.Inc()
		s.logger.Warn("revoked refresh token presented, revoking all sessions", "user", userID)
		if rerr := s.RevokeAll(ctx, userID); rerr != nil {
			s.logger.Error("revoking sessions", "user", userID, "err", rerr)
		}
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Logout revokes a refresh token. Unknown or invalid tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.ValidateToken(refreshToken)
	if err != nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", HashTokenID(claims.ID)).
		UpdateColumn("revoked_at", s.now()).Error
}

func (s *Service) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		UpdateColumn("revoked_at", s.now()).Error
}

// Authenticate resolves an access token to an active user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.User, *Claims, error) {
	claims, err := s.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, nil, ErrInvalidToken
	}
	var user models.User
	err = s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrUserNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if user.IsBanned {
		return nil, nil, ErrUserBanned
	}
	return &user, claims, nil
}
