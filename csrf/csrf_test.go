package csrf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(store Store) *echo.Echo {
	e := echo.New()
	e.Use(Middleware(Config{Store: store}))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/thing", ok)
	e.POST("/thing", ok)
	return e
}

func do(e *echo.Echo, method string, cookies []*http.Cookie, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/thing", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	if header != "" {
		req.Header.Set(HeaderName, header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSafeMethodsIssueToken(t *testing.T) {
	assert := assert.New(t)
	store := NewMemStore(100, time.Hour)
	e := testServer(store)

	rec := do(e, http.MethodGet, nil, "")
	assert.Equal(http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(CookieName, cookies[0].Name)
	assert.True(cookies[0].HttpOnly)
	assert.Len(cookies[0].Value, 43)
	assert.Equal(cookies[0].Value, rec.Header().Get(HeaderName))

	ok, err := store.Exists(context.Background(), cookies[0].Value)
	require.NoError(t, err)
	assert.True(ok)

	// a known token is echoed back without issuing a new cookie
	rec = do(e, http.MethodGet, cookies, "")
	assert.Empty(rec.Result().Cookies())
	assert.Equal(cookies[0].Value, rec.Header().Get(HeaderName))

	// an unknown token is replaced
	rec = do(e, http.MethodGet, []*http.Cookie{{Name: CookieName, Value: "stale"}}, "")
	require.Len(t, rec.Result().Cookies(), 1)
	assert.NotEqual("stale", rec.Result().Cookies()[0].Value)
}

func TestUnsafeMethods(t *testing.T) {
	assert := assert.New(t)
	store := NewMemStore(100, time.Hour)
	e := testServer(store)
	require.NoError(t, store.Save(context.Background(), "good-token", time.Hour))

	session := &http.Cookie{Name: AccessCookieName, Value: "jwt"}
	token := &http.Cookie{Name: CookieName, Value: "good-token"}

	// bearer clients without the session cookie are not checked
	rec := do(e, http.MethodPost, nil, "")
	assert.Equal(http.StatusOK, rec.Code)

	rec = do(e, http.MethodPost, []*http.Cookie{session, token}, "")
	assert.Equal(http.StatusForbidden, rec.Code)
	assert.Contains(rec.Body.String(), "CSRF token missing")

	rec = do(e, http.MethodPost, []*http.Cookie{session}, "good-token")
	assert.Equal(http.StatusForbidden, rec.Code)
	assert.Contains(rec.Body.String(), "CSRF token missing")

	rec = do(e, http.MethodPost, []*http.Cookie{session, token}, "other-token")
	assert.Equal(http.StatusForbidden, rec.Code)
	assert.Contains(rec.Body.String(), "CSRF token invalid")

	forged := &http.Cookie{Name: CookieName, Value: "forged"}
	rec = do(e, http.MethodPost, []*http.Cookie{session, forged}, "forged")
	assert.Equal(http.StatusForbidden, rec.Code)
	assert.Contains(rec.Body.String(), "CSRF token validation failed")

	rec = do(e, http.MethodPost, []*http.Cookie{session, token}, "good-token")
	assert.Equal(http.StatusOK, rec.Code)
}
