package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/subculture-collective/clipper/util"
)

// Identity is the subset of an identity provider's profile stored on users.
type Identity struct {
	ProviderID  string
	Login       string
	DisplayName string
	Email       string
	AvatarURL   string
}

type Provider interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

type TwitchConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// overridable for tests
	AuthBaseURL string
	APIBaseURL  string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type TwitchProvider struct {
	cfg    TwitchConfig
	client *http.Client
}

var _ Provider = (*TwitchProvider)(nil)

func NewTwitchProvider(cfg TwitchConfig) *TwitchProvider {
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = "https://id.twitch.tv"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.twitch.tv"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = util.RobustHTTPClient(cfg.Logger, 15*time.Second)
	}
	return &TwitchProvider{cfg: cfg, client: client}
}

func (p *TwitchProvider) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", p.cfg.ClientID)
	params.Set("redirect_uri", p.cfg.RedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", "user:read:email")
	params.Set("state", state)
	return p.cfg.AuthBaseURL + "/oauth2/authorize?" + params.Encode()
}

func (p *TwitchProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := p.exchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}
	id, err := p.fetchUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("fetching twitch user: %w", err)
	}
	return id, nil
}

func (p *TwitchProvider) exchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", p.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.AuthBaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := p.doJSON(req, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("token response had no access_token")
	}
	return out.AccessToken, nil
}

func (p *TwitchProvider) fetchUser(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.APIBaseURL+"/helix/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", p.cfg.ClientID)

	var out struct {
		Data []struct {
			ID              string `json:"id"`
			Login           string `json:"login"`
			DisplayName     string `json:"display_name"`
			Email           string `json:"email"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}
	if err := p.doJSON(req, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, errors.New("no user data returned")
	}
	u := out.Data[0]
	return &Identity{
		ProviderID:  u.ID,
		Login:       u.Login,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		AvatarURL:   u.ProfileImageURL,
	}, nil
}

func (p *TwitchProvider) doJSON(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("twitch returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
