package main

import (
	"log/slog"
	"os"

	"github.com/subculture-collective/clipper/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "clipper",
		Usage:   "clip sharing and curation service",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"CLIPPER_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text or json",
			Value:   "json",
			EnvVars: []string{"CLIPPER_LOG_FMT"},
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "append logs to this file instead of stdout",
			EnvVars: []string{"CLIPPER_LOG_FILE"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string (postgres:// or sqlite://)",
			Value:   "sqlite://data/clipper/clipper.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   40,
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL; in-process stores are used when unset",
			EnvVars: []string{"REDIS_URL"},
		},
	}

	app.Before = func(cctx *cli.Context) error {
		_, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
			LogPath:   cctx.String("log-file"),
		})
		return err
	}

	app.Commands = []*cli.Command{
		serveCmd,
		webhooksWorkerCmd,
		trendingRefreshCmd,
		searchReindexCmd,
		migrateCmd,
		seedCmd,
		classifyCmd,
	}

	return app.Run(args)
}
