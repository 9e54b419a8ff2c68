package auth

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subculture-collective/clipper/internal/testutil"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
)

type fakeProvider struct {
	ident *Identity
	err   error
	codes []string
}

func (p *fakeProvider) AuthorizeURL(state string) string {
	return "https://id.example.com/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	p.codes = append(p.codes, code)
	return p.ident, p.err
}

func testService(t *testing.T) (*Service, *fakeProvider, *gorm.DB) {
	db := testutil.TestDB(t)
	p := &fakeProvider{ident: &Identity{
		ProviderID:  "12345",
		Login:       "streamer",
		DisplayName: "Streamer",
		Email:       "streamer@example.com",
		AvatarURL:   "https://cdn.example.com/a.png",
	}}
	s := NewService(Config{DB: db, Tokens: testTokenManager(t), Provider: p})
	return s, p, db
}

func TestGenerateAuthURL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, _, _ := testService(t)

	_, _, err := s.GenerateAuthURL(ctx, "challenge", "", "")
	assert.ErrorIs(err, ErrInvalidPKCEParams)
	_, _, err = s.GenerateAuthURL(ctx, "", "S256", "")
	assert.ErrorIs(err, ErrInvalidPKCEParams)
	_, _, err = s.GenerateAuthURL(ctx, "challenge", "plain", "")
	assert.ErrorIs(err, ErrUnsupportedMethod)

	u, state, err := s.GenerateAuthURL(ctx, "", "", "")
	require.NoError(t, err)
	assert.Len(state, 43)
	assert.Contains(u, url.QueryEscape(state))

	_, state, err = s.GenerateAuthURL(ctx, "", "", "client-state")
	require.NoError(t, err)
	assert.Equal("client-state", state)
}

func TestCallbackPKCE(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, p, db := testService(t)

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := S256Challenge(verifier)
	// RFC 7636 appendix B
	assert.Equal("E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", challenge)

	_, state, err := s.GenerateAuthURL(ctx, challenge, PKCEMethodS256, "")
	require.NoError(t, err)

	// a wrong verifier burns the state
	_, err = s.HandleCallback(ctx, "code", state, "wrong")
	assert.ErrorIs(err, ErrInvalidCodeVerifier)
	_, err = s.HandleCallback(ctx, "code", state, verifier)
	assert.ErrorIs(err, ErrInvalidState)

	_, state, err = s.GenerateAuthURL(ctx, challenge, PKCEMethodS256, "")
	require.NoError(t, err)
	_, err = s.HandleCallback(ctx, "code", state, "")
	assert.ErrorIs(err, ErrInvalidCodeVerifier)

	_, state, err = s.GenerateAuthURL(ctx, challenge, PKCEMethodS256, "")
	require.NoError(t, err)
	sess, err := s.HandleCallback(ctx, "the-code", state, verifier)
	require.NoError(t, err)
	assert.Equal([]string{"the-code"}, p.codes)
	assert.Equal("streamer", sess.User.Username)
	assert.Equal(models.RoleUser, sess.User.Role)
	assert.True(sess.User.WatchHistoryEnabled)
	assert.NotEmpty(sess.AccessToken)
	assert.NotEmpty(sess.RefreshToken)

	// states are single use
	_, err = s.HandleCallback(ctx, "the-code", state, verifier)
	assert.ErrorIs(err, ErrInvalidState)
	_, err = s.HandleCallback(ctx, "code", "", "")
	assert.ErrorIs(err, ErrInvalidState)

	user, claims, err := s.Authenticate(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(sess.User.ID, user.ID)
	assert.Equal(models.RoleUser, claims.Role)

	var tokens int64
	require.NoError(t, db.Model(&models.RefreshToken{}).Count(&tokens).Error)
	assert.Equal(int64(1), tokens)
}

func TestCallbackUpsertAndBan(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, p, db := testService(t)

	login := func() (*Session, error) {
		_, state, err := s.GenerateAuthURL(ctx, "", "", "")
		require.NoError(t, err)
		return s.HandleCallback(ctx, "code", state, "")
	}

	first, err := login()
	require.NoError(t, err)

	p.ident.Login = "renamed"
	second, err := login()
	require.NoError(t, err)
	assert.Equal(first.User.ID, second.User.ID)
	assert.Equal("renamed", second.User.Username)

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	assert.Equal(int64(1), count)

	require.NoError(t, db.Model(&models.User{}).Where("id = ?", first.User.ID).Update("is_banned", true).Error)
	_, err = login()
	assert.ErrorIs(err, ErrUserBanned)
	_, _, err = s.Authenticate(ctx, second.AccessToken)
	assert.ErrorIs(err, ErrUserBanned)

	p.err = errors.New("twitch down")
	_, err = login()
	assert.Error(err)
}

func TestRefreshRotation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, _, _ := testService(t)

	_, state, err := s.GenerateAuthURL(ctx, "", "", "")
	require.NoError(t, err)
	sess, err := s.HandleCallback(ctx, "code", state, "")
	require.NoError(t, err)

	// access tokens cannot be used to refresh
	_, err = s.Refresh(ctx, sess.AccessToken)
	assert.ErrorIs(err, ErrInvalidToken)

	rotated, err := s.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(sess.RefreshToken, rotated.RefreshToken)

	// replaying the old token is refused and kills the rotated one too
	_, err = s.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(err, ErrTokenRevoked)
	_, err = s.Refresh(ctx, rotated.RefreshToken)
	assert.ErrorIs(err, ErrTokenRevoked)

	_, state, err = s.GenerateAuthURL(ctx, "", "", "")
	require.NoError(t, err)
	fresh, err := s.HandleCallback(ctx, "code", state, "")
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx, fresh.RefreshToken))
	_, err = s.Refresh(ctx, fresh.RefreshToken)
	assert.ErrorIs(err, ErrTokenRevoked)

	// logging out with garbage is harmless
	assert.NoError(s.Logout(ctx, "garbage"))
}

func TestMemStateStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	st := NewMemStateStore(10, 50*time.Millisecond)

	require.NoError(t, st.Put(ctx, "a", "1", time.Minute))
	v, ok, err := st.Take(ctx, "a")
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal("1", v)
	_, ok, _ = st.Take(ctx, "a")
	assert.False(ok)

	require.NoError(t, st.Put(ctx, "b", "2", time.Minute))
	time.Sleep(120 * time.Millisecond)
	_, ok, _ = st.Take(ctx, "b")
	assert.False(ok)
}
