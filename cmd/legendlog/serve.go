package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rybkr/legendlog/internal/api"
	"github.com/rybkr/legendlog/internal/archive"
	"github.com/rybkr/legendlog/internal/config"
	"github.com/rybkr/legendlog/internal/i18n"
	"github.com/rybkr/legendlog/internal/logmux"
	"github.com/rybkr/legendlog/internal/server"
	"github.com/rybkr/legendlog/internal/session"
	"github.com/rybkr/legendlog/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the answer tree and log server",
	Long: `Starts the HTTP and websocket server the editor connects to.

The workspace directory is watched for changes; its main branch head is used
as the base of new answers.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	texts, err := i18n.New(cfg.Locale, cfg.Texts)
	if err != nil {
		return fmt.Errorf("loading texts: %w", err)
	}

	client := api.NewClient(cfg.API.Server,
		api.WithFrom(cfg.API.From),
		api.WithTimeout(cfg.API.Timeout),
		api.WithLogger(logger.Named("api")),
	)

	store, closeStore, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	defer closeStore()

	var sinks logmux.SinkFactory = logmux.DiscardFactory
	if cfg.Terminal.Echo {
		sinks = logmux.ConsoleFactory(os.Stdout)
	}
	logs := logmux.New(
		logmux.WithSinkFactory(sinks),
		logmux.WithFetcher(archive.NewFetcher(client, cfg.Challenge.RepoFullName, store, logger.Named("archive"))),
		logmux.WithTranslator(texts),
		logmux.WithLogger(logger.Named("logmux")),
	)

	ws, err := workspace.Open(cfg.Workspace, logger.Named("workspace"))
	if err != nil {
		return err
	}

	hub := server.NewHub(logger.Named("hub"))
	sess := session.New(session.Deps{
		Challenge: session.Challenge{
			MissionID:    cfg.Challenge.MissionID,
			ChallengeID:  cfg.Challenge.ChallengeID,
			RepoFullName: cfg.Challenge.RepoFullName,
			Whitelist:    cfg.Challenge.Whitelist,
			InitialURL:   cfg.Challenge.InitialURL,
		},
		Logs:      logs,
		Texts:     texts,
		UI:        hub,
		Submitter: client,
		Workspace: ws,
		Logger:    logger.Named("session"),
	})

	srv := server.New(sess, hub, cfg.ListenAddr,
		server.WithLogger(logger.Named("server")),
		server.WithPollPeriod(cfg.PollPeriod),
		server.WithWorkspace(ws),
	)

	logger.Info("legendlog starting",
		zap.String("addr", cfg.ListenAddr),
		zap.String("workspace", ws.Root()),
		zap.String("mainBranch", ws.MainBranchSHA()),
		zap.String("locale", texts.Tag().String()),
		zap.String("archive", cfg.Archive.Driver),
	)
	return srv.Start(ctx)
}

// openArchive returns the configured log archive, or nil when archiving is
// disabled.
func openArchive(ctx context.Context, c config.ArchiveConfig) (archive.Archive, func(), error) {
	switch c.Driver {
	case config.ArchiveNone:
		return nil, func() {}, nil
	case config.ArchiveRedis:
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", c.RedisAddr, err)
		}
		return archive.NewRedisArchive(rdb, c.KeyPrefix, c.TTL), func() { _ = rdb.Close() }, nil
	default:
		return archive.NewMemoryArchive(), func() {}, nil
	}
}
