package toxicity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/subculture-collective/clipper/util"
	"golang.org/x/time/rate"
)

var perspectiveAttributes = []string{
	"TOXICITY",
	"SEVERE_TOXICITY",
	"IDENTITY_ATTACK",
	"INSULT",
	"PROFANITY",
	"THREAT",
	"SEXUALLY_EXPLICIT",
}

type perspectiveRequest struct {
	Comment struct {
		Text string `json:"text"`
	} `json:"comment"`
	RequestedAttributes map[string]struct{} `json:"requestedAttributes"`
	Languages           []string            `json:"languages"`
}

type perspectiveResponse struct {
	AttributeScores map[string]struct {
		SummaryScore struct {
			Value float64 `json:"value"`
		} `json:"summaryScore"`
	} `json:"attributeScores"`
}

type perspectiveClient struct {
	url     string
	key     string
	client  *http.Client
	limiter *rate.Limiter
}

func newPerspectiveClient(url, key string, rps float64, client *http.Client, logger *slog.Logger) *perspectiveClient {
	if client == nil {
		client = util.RobustHTTPClient(logger, 10*time.Second)
	}
	if rps <= 0 {
		rps = 1
	}
	return &perspectiveClient{
		url:     url,
		key:     key,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *Classifier) classifyPerspective(ctx context.Context, content string) (*Score, error) {
	scores, err := c.perspective.analyze(ctx, content)
	if err != nil {
		return nil, err
	}
	return c.summarize(scores), nil
}

func (p *perspectiveClient) analyze(ctx context.Context, content string) (map[string]float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body perspectiveRequest
	body.Comment.Text = content
	body.Languages = []string{"en"}
	body.RequestedAttributes = make(map[string]struct{}, len(perspectiveAttributes))
	for _, a := range perspectiveAttributes {
		body.RequestedAttributes[a] = struct{}{}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	// key goes in a header so it never shows up in logged URLs
	req.Header.Set("X-Goog-Api-Key", p.key)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perspective request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("perspective api returned %d: %s", resp.StatusCode, msg)
	}

	var out perspectiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding perspective response: %w", err)
	}
	scores := make(map[string]float64, len(out.AttributeScores))
	for attr, s := range out.AttributeScores {
		scores[attr] = s.SummaryScore.Value
	}
	return scores, nil
}
