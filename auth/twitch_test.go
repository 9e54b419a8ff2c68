package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwitchProvider(t *testing.T) {
	assert := assert.New(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("code") != "good" || r.PostForm.Get("client_secret") != "shh" {
			http.Error(w, `{"message":"invalid code"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tw-token","token_type":"bearer"}`))
	})
	mux.HandleFunc("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tw-token" || r.Header.Get("Client-Id") != "cid" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[{"id":"42","login":"caster","display_name":"Caster","email":"c@example.com","profile_image_url":"https://img/x.png"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewTwitchProvider(TwitchConfig{
		ClientID:     "cid",
		ClientSecret: "shh",
		RedirectURI:  "https://clipper.example.com/callback",
		AuthBaseURL:  srv.URL,
		APIBaseURL:   srv.URL,
		HTTPClient:   srv.Client(),
	})

	authURL, err := url.Parse(p.AuthorizeURL("st8"))
	require.NoError(t, err)
	assert.Equal("/oauth2/authorize", authURL.Path)
	assert.Equal("st8", authURL.Query().Get("state"))
	assert.Equal("code", authURL.Query().Get("response_type"))
	assert.Equal("cid", authURL.Query().Get("client_id"))

	ident, err := p.Exchange(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(&Identity{
		ProviderID:  "42",
		Login:       "caster",
		DisplayName: "Caster",
		Email:       "c@example.com",
		AvatarURL:   "https://img/x.png",
	}, ident)

	_, err = p.Exchange(context.Background(), "bad")
	assert.ErrorContains(err, "400")
}
