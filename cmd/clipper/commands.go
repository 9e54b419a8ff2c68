package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/subculture-collective/clipper/models"
	"github.com/subculture-collective/clipper/search"
	"github.com/subculture-collective/clipper/toxicity"
	"github.com/subculture-collective/clipper/trending"
	"github.com/subculture-collective/clipper/webhooks"

	cli "github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func authFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "jwt-private-key",
			Usage:   "PEM encoded RSA private key used to sign access tokens",
			EnvVars: []string{"JWT_PRIVATE_KEY"},
		},
		&cli.StringFlag{
			Name:    "jwt-private-key-file",
			Usage:   "path to a PEM encoded RSA private key",
			EnvVars: []string{"JWT_PRIVATE_KEY_FILE"},
		},
		&cli.StringFlag{
			Name:    "jwt-issuer",
			Value:   "clipper",
			EnvVars: []string{"JWT_ISSUER"},
		},
		&cli.StringFlag{
			Name:    "twitch-client-id",
			EnvVars: []string{"TWITCH_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "twitch-client-secret",
			EnvVars: []string{"TWITCH_CLIENT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "twitch-redirect-uri",
			Value:   "http://localhost:8080/api/v1/auth/callback",
			EnvVars: []string{"TWITCH_REDIRECT_URI"},
		},
	}
}

func toxicityFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "toxicity-rules",
			Usage:   "path to a YAML rules file; the built-in rules are used when unset",
			EnvVars: []string{"TOXICITY_RULES_FILE"},
		},
		&cli.BoolFlag{
			Name:    "toxicity-enabled",
			Value:   true,
			EnvVars: []string{"TOXICITY_ENABLED"},
		},
		&cli.Float64Flag{
			Name:    "toxicity-threshold",
			Value:   toxicity.DefaultThreshold,
			EnvVars: []string{"TOXICITY_THRESHOLD"},
		},
		&cli.StringFlag{
			Name:    "perspective-url",
			Value:   "https://commentanalyzer.googleapis.com/v1alpha1/comments:analyze",
			EnvVars: []string{"PERSPECTIVE_API_URL"},
		},
		&cli.StringFlag{
			Name:    "perspective-api-key",
			Usage:   "enables scoring with the Perspective API",
			EnvVars: []string{"PERSPECTIVE_API_KEY"},
		},
		&cli.Float64Flag{
			Name:    "perspective-rps",
			Value:   1,
			EnvVars: []string{"PERSPECTIVE_RPS"},
		},
	}
}

func searchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "opensearch-url",
			Usage:   "comma separated opensearch hosts; SQL search is used when unset",
			EnvVars: []string{"OPENSEARCH_URL", "ES_HOSTS"},
		},
		&cli.StringFlag{
			Name:    "opensearch-username",
			EnvVars: []string{"OPENSEARCH_USERNAME", "ES_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "opensearch-password",
			EnvVars: []string{"OPENSEARCH_PASSWORD", "ES_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "opensearch-index",
			Value:   search.DefaultClipIndex,
			EnvVars: []string{"OPENSEARCH_CLIP_INDEX"},
		},
	}
}

func webhookFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "webhook-concurrency",
			Value:   10,
			EnvVars: []string{"WEBHOOK_CONCURRENCY"},
		},
		&cli.IntFlag{
			Name:    "webhook-max-attempts",
			Value:   webhooks.DefaultMaxAttempts,
			EnvVars: []string{"WEBHOOK_MAX_ATTEMPTS"},
		},
		&cli.BoolFlag{
			Name:    "allow-private-webhooks",
			Usage:   "permit webhook URLs that resolve to private or loopback addresses",
			EnvVars: []string{"WEBHOOK_ALLOW_PRIVATE"},
		},
		&cli.DurationFlag{
			Name:    "webhook-interval",
			Value:   30 * time.Second,
			EnvVars: []string{"WEBHOOK_RETRY_INTERVAL"},
		},
		&cli.IntFlag{
			Name:    "webhook-batch-size",
			Value:   100,
			EnvVars: []string{"WEBHOOK_BATCH_SIZE"},
		},
	}
}

func trendingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "trending-schedule",
			Usage:   "cron spec for trending score refreshes",
			Value:   "@every 1h",
			EnvVars: []string{"TRENDING_SCHEDULE"},
		},
		&cli.DurationFlag{
			Name:    "trending-window",
			Usage:   "only clips created within this window are rescored",
			Value:   7 * 24 * time.Hour,
			EnvVars: []string{"TRENDING_WINDOW"},
		},
	}
}

func concatFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP API, metrics listener and optional background workers",
	Flags: concatFlags(
		[]cli.Flag{
			&cli.StringFlag{
				Name:    "bind",
				Usage:   "IP or address, and port, to listen on for HTTP APIs",
				Value:   ":8080",
				EnvVars: []string{"CLIPPER_BIND"},
			},
			&cli.StringFlag{
				Name:    "metrics-listen",
				Usage:   "IP or address, and port, to listen on for metrics APIs",
				Value:   ":3999",
				EnvVars: []string{"CLIPPER_METRICS_LISTEN"},
			},
			&cli.StringSliceFlag{
				Name:    "cors-origins",
				Usage:   "allowed CORS origins",
				Value:   cli.NewStringSlice("http://localhost:5173"),
				EnvVars: []string{"CORS_ALLOWED_ORIGINS"},
			},
			&cli.BoolFlag{
				Name:    "secure-cookies",
				EnvVars: []string{"SECURE_COOKIES"},
			},
			&cli.StringSliceFlag{
				Name:    "rate-limit-whitelist",
				Usage:   "client IPs exempt from rate limiting",
				EnvVars: []string{"RATE_LIMIT_WHITELIST_IPS"},
			},
			&cli.BoolFlag{
				Name:    "disable-loopback-bypass",
				Usage:   "rate limit loopback clients too",
				EnvVars: []string{"RATE_LIMIT_DISABLE_LOOPBACK"},
			},
			&cli.Int64Flag{
				Name:    "rate-limit",
				Usage:   "requests allowed per client per endpoint and window",
				Value:   100,
				EnvVars: []string{"RATE_LIMIT"},
			},
			&cli.DurationFlag{
				Name:    "rate-limit-window",
				Value:   time.Minute,
				EnvVars: []string{"RATE_LIMIT_WINDOW"},
			},
			&cli.DurationFlag{
				Name:    "leaderboard-cache-ttl",
				Value:   5 * time.Minute,
				EnvVars: []string{"LEADERBOARD_CACHE_TTL"},
			},
			&cli.BoolFlag{
				Name:    "auto-migrate",
				Value:   true,
				EnvVars: []string{"CLIPPER_AUTO_MIGRATE"},
			},
			&cli.BoolFlag{
				Name:    "run-workers",
				Usage:   "also run the trending scheduler and webhook retry worker in this process",
				Value:   true,
				EnvVars: []string{"CLIPPER_RUN_WORKERS"},
			},
		},
		authFlags(),
		toxicityFlags(),
		searchFlags(),
		webhookFlags(),
		trendingFlags(),
	),
	Action: func(cctx *cli.Context) error {
		logger := slog.Default().With("system", "clipper")

		shutdown, err := configOTEL("clipper")
		if err != nil {
			return err
		}
		defer shutdown()

		svc, err := newServices(cctx, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		if cctx.Bool("auto-migrate") {
			if err := models.AutoMigrate(svc.db); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
		}
		if svc.index != nil {
			if err := svc.index.EnsureIndex(cctx.Context); err != nil {
				return err
			}
		}

		srv := NewServer(svc, Config{
			Bind:                  cctx.String("bind"),
			CORSOrigins:           cctx.StringSlice("cors-origins"),
			SecureCookies:         cctx.Bool("secure-cookies"),
			RateLimitWhitelist:    cctx.StringSlice("rate-limit-whitelist"),
			DisableLoopbackBypass: cctx.Bool("disable-loopback-bypass"),
		})

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				logger.Error("failed to start metrics endpoint", "err", err)
			}
		}()

		ctx, stop := signalContext(cctx.Context)
		defer stop()
		if cctx.Bool("run-workers") {
			go func() {
				err := svc.trending.RunScheduler(ctx, trending.SchedulerConfig{
					Schedule: cctx.String("trending-schedule"),
					Window:   cctx.Duration("trending-window"),
				})
				if err != nil {
					logger.Error("trending scheduler exited", "err", err)
				}
			}()
			go func() {
				err := svc.webhooks.RunWorker(ctx, webhooks.WorkerConfig{
					Interval:  cctx.Duration("webhook-interval"),
					BatchSize: cctx.Int("webhook-batch-size"),
				})
				if err != nil {
					logger.Error("webhook worker exited", "err", err)
				}
			}()
		}

		return srv.RunAPI()
	},
}

var webhooksWorkerCmd = &cli.Command{
	Name:  "webhooks-worker",
	Usage: "deliver pending and retrying webhook events",
	Flags: webhookFlags(),
	Action: func(cctx *cli.Context) error {
		logger := slog.Default().With("system", "webhooks-worker")
		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}
		svc := webhooks.NewService(webhooks.Config{
			DB:               db,
			Concurrency:      cctx.Int("webhook-concurrency"),
			MaxAttempts:      cctx.Int("webhook-max-attempts"),
			AllowPrivateURLs: cctx.Bool("allow-private-webhooks"),
			Logger:           logger,
		})

		ctx, stop := signalContext(cctx.Context)
		defer stop()
		return svc.RunWorker(ctx, webhooks.WorkerConfig{
			Interval:  cctx.Duration("webhook-interval"),
			BatchSize: cctx.Int("webhook-batch-size"),
		})
	},
}

var trendingRefreshCmd = &cli.Command{
	Name:  "trending-refresh",
	Usage: "recompute trending and hot scores once",
	Flags: trendingFlags(),
	Action: func(cctx *cli.Context) error {
		logger := slog.Default().With("system", "trending-refresh")
		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}
		n, err := trending.NewService(db, logger).Refresh(cctx.Context, cctx.Duration("trending-window"))
		if err != nil {
			return err
		}
		logger.Info("trending scores refreshed", "clips", n)
		return nil
	},
}

var searchReindexCmd = &cli.Command{
	Name:  "search-reindex",
	Usage: "rebuild the opensearch clip index from the database",
	Flags: concatFlags(searchFlags(), []cli.Flag{
		&cli.IntFlag{
			Name:  "batch-size",
			Value: 500,
		},
	}),
	Action: func(cctx *cli.Context) error {
		logger := slog.Default().With("system", "search-reindex")
		if cctx.String("opensearch-url") == "" {
			return fmt.Errorf("--opensearch-url is required")
		}
		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}
		escli, err := openSearchClient(cctx, logger)
		if err != nil {
			return err
		}
		idx := search.NewIndex(escli, cctx.String("opensearch-index"), logger)
		if err := idx.EnsureIndex(cctx.Context); err != nil {
			return err
		}
		n, err := idx.Reindex(cctx.Context, db, cctx.Int("batch-size"))
		if err != nil {
			return err
		}
		logger.Info("reindex complete", "clips", n)
		return nil
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create or update database tables",
	Action: func(cctx *cli.Context) error {
		logger := slog.Default().With("system", "migrate")
		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}
		return models.AutoMigrate(db)
	},
}

var classifyCmd = &cli.Command{
	Name:      "classify",
	Usage:     "score text with the toxicity classifier",
	ArgsUsage: "[text...]",
	Flags: concatFlags(toxicityFlags(), []cli.Flag{
		&cli.StringFlag{
			Name:  "eval",
			Usage: "YAML file of labeled samples; prints precision and recall instead of a score",
		},
	}),
	Action: func(cctx *cli.Context) error {
		logger := slog.Default().With("system", "classify")
		classifier, err := newClassifier(cctx, logger)
		if err != nil {
			return err
		}

		var out any
		if path := cctx.String("eval"); path != "" {
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			var samples []toxicity.Sample
			if err := yaml.Unmarshal(raw, &samples); err != nil {
				return fmt.Errorf("parsing samples: %w", err)
			}
			out, err = classifier.Evaluate(cctx.Context, samples)
			if err != nil {
				return err
			}
		} else {
			text := strings.Join(cctx.Args().Slice(), " ")
			if text == "" {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				text = string(b)
			}
			out, err = classifier.Classify(cctx.Context, text)
			if err != nil {
				return err
			}
		}

		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}
