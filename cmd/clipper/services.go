package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/subculture-collective/clipper/auth"
	"github.com/subculture-collective/clipper/csrf"
	"github.com/subculture-collective/clipper/feeds"
	"github.com/subculture-collective/clipper/ratelimit"
	"github.com/subculture-collective/clipper/reputation"
	"github.com/subculture-collective/clipper/search"
	"github.com/subculture-collective/clipper/toxicity"
	"github.com/subculture-collective/clipper/trending"
	"github.com/subculture-collective/clipper/util"
	"github.com/subculture-collective/clipper/util/cliutil"
	"github.com/subculture-collective/clipper/watchhistory"
	"github.com/subculture-collective/clipper/webhooks"

	"github.com/go-redis/cache/v9"
	es "github.com/opensearch-project/opensearch-go/v2"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

// services holds everything a command may need. Fields backed by optional
// infrastructure (redis, opensearch) are nil when it is not configured.
type services struct {
	db     *gorm.DB
	redis  *redis.Client
	cache  *cache.Cache
	logger *slog.Logger

	auth       *auth.Service
	reputation *reputation.Service
	watch      *watchhistory.Service
	feeds      *feeds.Service
	webhooks   *webhooks.Service
	moderator  *toxicity.Moderator
	trending   *trending.Service
	searcher   search.Searcher
	index      *search.Index
	limiter    *ratelimit.Limiter
	csrfStore  csrf.Store
}

func openDatabase(cctx *cli.Context, logger *slog.Logger) (*gorm.DB, error) {
	return cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"), logger)
}

func openRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func openSearchClient(cctx *cli.Context, logger *slog.Logger) (*es.Client, error) {
	if cctx.String("opensearch-url") == "" {
		return nil, nil
	}
	addrs := strings.Split(cctx.String("opensearch-url"), ",")
	escli, err := es.NewClient(es.Config{
		Addresses: addrs,
		Username:  cctx.String("opensearch-username"),
		Password:  cctx.String("opensearch-password"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up opensearch client: %w", err)
	}
	info, err := escli.Info()
	if err != nil {
		return nil, fmt.Errorf("cannot get opensearch info: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return nil, fmt.Errorf("opensearch info: %s", info.Status())
	}
	logger.Info("connected to opensearch", "addresses", addrs)
	return escli, nil
}

func loadSigningKey(cctx *cli.Context, logger *slog.Logger) ([]byte, error) {
	if pem := cctx.String("jwt-private-key"); pem != "" {
		return []byte(pem), nil
	}
	if path := cctx.String("jwt-private-key-file"); path != "" {
		return os.ReadFile(path)
	}
	logger.Warn("no JWT signing key configured, generating an ephemeral key; sessions will not survive a restart")
	return auth.GenerateSigningKey()
}

func newClassifier(cctx *cli.Context, logger *slog.Logger) (*toxicity.Classifier, error) {
	rules := toxicity.DefaultRules()
	if path := cctx.String("toxicity-rules"); path != "" {
		var err error
		rules, err = toxicity.LoadRules(path)
		if err != nil {
			return nil, err
		}
	}
	return toxicity.NewClassifier(toxicity.ClassifierConfig{
		Enabled:        cctx.Bool("toxicity-enabled"),
		Threshold:      cctx.Float64("toxicity-threshold"),
		Rules:          rules,
		PerspectiveURL: cctx.String("perspective-url"),
		PerspectiveKey: cctx.String("perspective-api-key"),
		PerspectiveRPS: cctx.Float64("perspective-rps"),
		HTTPClient:     util.RobustHTTPClient(logger, 10*time.Second),
		Logger:         logger,
	}), nil
}

// newServices builds the full service graph from command flags. Flags a
// command does not define read as their zero value.
func newServices(cctx *cli.Context, logger *slog.Logger) (*services, error) {
	ctx := cctx.Context

	db, err := openDatabase(cctx, logger)
	if err != nil {
		return nil, err
	}
	rdb, err := openRedis(ctx, cctx.String("redis-url"))
	if err != nil {
		return nil, err
	}

	svc := &services{db: db, redis: rdb, logger: logger}

	cacheOpts := &cache.Options{LocalCache: cache.NewTinyLFU(10_000, time.Minute)}
	if rdb != nil {
		cacheOpts.Redis = rdb
	}
	svc.cache = cache.New(cacheOpts)

	keyPEM, err := loadSigningKey(cctx, logger)
	if err != nil {
		return nil, fmt.Errorf("loading JWT signing key: %w", err)
	}
	tokens, err := auth.NewTokenManager(keyPEM, cctx.String("jwt-issuer"))
	if err != nil {
		return nil, err
	}

	var states auth.StateStore = auth.NewMemStateStore(100_000, 10*time.Minute)
	svc.csrfStore = csrf.NewMemStore(1_000_000, csrf.TokenTTL)
	var counter ratelimit.Counter = ratelimit.NewMemCounter()
	if rdb != nil {
		states = auth.NewRedisStateStore(rdb)
		svc.csrfStore = csrf.NewRedisStore(rdb)
		counter = ratelimit.NewRedisCounter(rdb)
	}

	svc.auth = auth.NewService(auth.Config{
		DB:     db,
		Tokens: tokens,
		States: states,
		Provider: auth.NewTwitchProvider(auth.TwitchConfig{
			ClientID:     cctx.String("twitch-client-id"),
			ClientSecret: cctx.String("twitch-client-secret"),
			RedirectURI:  cctx.String("twitch-redirect-uri"),
			Logger:       logger,
		}),
		Logger: logger,
	})

	svc.reputation = reputation.NewService(reputation.Config{
		DB:       db,
		Cache:    svc.cache,
		CacheTTL: cctx.Duration("leaderboard-cache-ttl"),
		Logger:   logger,
	})
	svc.watch = watchhistory.NewService(db, logger)
	svc.feeds = feeds.NewService(feeds.Config{
		DB:       db,
		Cache:    svc.cache,
		CacheTTL: cctx.Duration("leaderboard-cache-ttl"),
		Logger:   logger,
	})
	svc.webhooks = webhooks.NewService(webhooks.Config{
		DB:               db,
		Concurrency:      cctx.Int("webhook-concurrency"),
		MaxAttempts:      cctx.Int("webhook-max-attempts"),
		AllowPrivateURLs: cctx.Bool("allow-private-webhooks"),
		Logger:           logger,
	})
	svc.trending = trending.NewService(db, logger)

	classifier, err := newClassifier(cctx, logger)
	if err != nil {
		return nil, err
	}
	svc.moderator = toxicity.NewModerator(db, classifier, logger)

	escli, err := openSearchClient(cctx, logger)
	if err != nil {
		return nil, err
	}
	if escli != nil {
		svc.index = search.NewIndex(escli, cctx.String("opensearch-index"), logger)
		svc.searcher = svc.index
	} else {
		svc.searcher = search.NewSQLSearcher(db, logger)
	}

	limit := cctx.Int64("rate-limit")
	if limit <= 0 {
		limit = 100
	}
	window := cctx.Duration("rate-limit-window")
	if window <= 0 {
		window = time.Minute
	}
	svc.limiter = ratelimit.NewLimiter(counter, limit, window, logger)

	return svc, nil
}

func (svc *services) Close() {
	if svc.redis != nil {
		svc.redis.Close()
	}
	if sqldb, err := svc.db.DB(); err == nil {
		sqldb.Close()
	}
}
