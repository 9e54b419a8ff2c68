package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/subculture-collective/clipper/models"
	"github.com/subculture-collective/clipper/reputation"
	"github.com/subculture-collective/clipper/trending"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v2"
)

var seedCmd = &cli.Command{
	Name:  "seed",
	Usage: "populate a development database with fake users, clips and votes",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "users",
			Value: 25,
		},
		&cli.IntFlag{
			Name:  "clips",
			Value: 200,
		},
		&cli.IntFlag{
			Name:  "votes",
			Value: 1000,
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "random seed; zero picks one",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		logger := slog.Default().With("system", "seed")

		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}
		if err := models.AutoMigrate(db); err != nil {
			return err
		}
		if s := cctx.Int64("seed"); s != 0 {
			gofakeit.Seed(s)
		}

		users := make([]models.User, cctx.Int("users"))
		for i := range users {
			users[i] = models.User{
				ID:                  uuid.New(),
				TwitchID:            fmt.Sprintf("%d", gofakeit.Number(10_000_000, 99_999_999)),
				Username:            fmt.Sprintf("%s%d", gofakeit.Username(), i),
				DisplayName:         gofakeit.Name(),
				Email:               gofakeit.Email(),
				Role:                models.RoleUser,
				KarmaPoints:         gofakeit.Number(0, 2000),
				WatchHistoryEnabled: true,
			}
		}
		if len(users) > 0 {
			users[0].Role = models.RoleAdmin
			if err := db.WithContext(ctx).CreateInBatches(users, 100).Error; err != nil {
				return fmt.Errorf("creating users: %w", err)
			}
		}

		games := []string{"Just Chatting", "Valorant", "Minecraft", "League of Legends", "Elden Ring", "Chess"}
		now := time.Now()
		clips := make([]models.Clip, cctx.Int("clips"))
		for i := range clips {
			game := gofakeit.RandomString(games)
			lang := gofakeit.RandomString([]string{"en", "en", "en", "de", "es", "fr"})
			duration := gofakeit.Float64Range(5, 60)
			slug := gofakeit.LetterN(16)
			created := gofakeit.DateRange(now.Add(-30*24*time.Hour), now)
			c := models.Clip{
				ID:              uuid.New(),
				TwitchClipID:    slug,
				TwitchClipURL:   "https://clips.twitch.tv/" + slug,
				EmbedURL:        "https://clips.twitch.tv/embed?clip=" + slug,
				Title:           gofakeit.Sentence(gofakeit.Number(3, 9)),
				CreatorName:     gofakeit.Username(),
				BroadcasterName: gofakeit.Username(),
				GameName:        &game,
				Language:        &lang,
				Duration:        &duration,
				ViewCount:       gofakeit.Number(0, 50_000),
				IsNSFW:          gofakeit.Number(0, 20) == 0,
				CreatedAt:       created,
				ImportedAt:      now,
			}
			if len(users) > 0 && gofakeit.Bool() {
				c.SubmittedByUserID = &users[rand.Intn(len(users))].ID
			}
			clips[i] = c
		}
		if len(clips) > 0 {
			if err := db.WithContext(ctx).CreateInBatches(clips, 100).Error; err != nil {
				return fmt.Errorf("creating clips: %w", err)
			}
		}

		rep := reputation.NewService(reputation.Config{DB: db, Logger: logger})
		votes := 0
		if len(users) > 0 && len(clips) > 0 {
			for range cctx.Int("votes") {
				u := users[rand.Intn(len(users))]
				c := clips[rand.Intn(len(clips))]
				dir := models.VoteDirUp
				if gofakeit.Number(0, 3) == 0 {
					dir = models.VoteDirDown
				}
				_, err := rep.VoteClip(ctx, u.ID, c.ID, dir)
				if errors.Is(err, reputation.ErrSelfVote) {
					continue
				}
				if err != nil {
					return fmt.Errorf("casting vote: %w", err)
				}
				votes++
			}
		}

		n, err := trending.NewService(db, logger).Refresh(ctx, 30*24*time.Hour)
		if err != nil {
			return err
		}
		logger.Info("seed complete", "users", len(users), "clips", len(clips), "votes", votes, "scored", n)
		return nil
	},
}
