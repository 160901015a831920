// Command history replays archived sessions into the store. It also offers
// inspection subcommands for the archive itself.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pitwall/pitwall/engine/collections"
	"github.com/pitwall/pitwall/engine/history"
	"github.com/pitwall/pitwall/engine/schedule"
	"github.com/pitwall/pitwall/pkg/publish"
	"github.com/pitwall/pitwall/pkg/store"
)

var (
	flagYear        int
	flagMeeting     int
	flagSession     int
	flagCollections []string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "history",
		Short:         "Replay archived live-timing sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().IntVar(&flagYear, "year", 0, "season year")
	root.PersistentFlags().IntVar(&flagMeeting, "meeting", 0, "meeting key")
	root.PersistentFlags().IntVar(&flagSession, "session", 0, "session key")
	root.PersistentFlags().StringSliceVar(&flagCollections, "collections", nil,
		"restrict to these collections (default all)")

	root.AddCommand(
		listTopicsCmd(logger),
		getMessagesCmd(logger),
		ingestCmd(logger, "ingest-session", "Replay one session", func(ctx context.Context, ing *history.Ingestor) error {
			if flagMeeting == 0 || flagSession == 0 {
				return fmt.Errorf("--meeting and --session are required")
			}
			return ing.IngestSession(ctx, flagYear, flagMeeting, flagSession)
		}),
		ingestCmd(logger, "ingest-meeting", "Replay every session of a meeting", func(ctx context.Context, ing *history.Ingestor) error {
			if flagMeeting == 0 {
				return fmt.Errorf("--meeting is required")
			}
			return ing.IngestMeeting(ctx, flagYear, flagMeeting)
		}),
		ingestCmd(logger, "ingest-season", "Replay every meeting of a season", func(ctx context.Context, ing *history.Ingestor) error {
			return ing.IngestSeason(ctx, flagYear)
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func sessionURL(ctx context.Context) (string, error) {
	if flagYear == 0 || flagMeeting == 0 || flagSession == 0 {
		return "", fmt.Errorf("--year, --meeting and --session are required")
	}
	return schedule.NewClient().SessionURL(ctx, flagYear, flagMeeting, flagSession)
}

func listTopicsCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list-topics",
		Short: "List the topics archived for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := sessionURL(cmd.Context())
			if err != nil {
				return err
			}
			topics, err := history.NewArchive(logger).Topics(cmd.Context(), url)
			if err != nil {
				return err
			}
			for _, topic := range topics {
				fmt.Println(topic)
			}
			return nil
		},
	}
}

func getMessagesCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "get-messages",
		Short: "Print a session's messages as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := sessionURL(cmd.Context())
			if err != nil {
				return err
			}
			msgs, err := history.NewArchive(logger).Messages(cmd.Context(), url,
				collections.Topics(flagCollections...))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, msg := range msgs {
				line := map[string]any{
					"topic":     msg.Topic,
					"timepoint": msg.Timepoint,
					"content":   msg.Content,
				}
				if err := enc.Encode(line); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func ingestCmd(logger *slog.Logger, use, short string, run func(context.Context, *history.Ingestor) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagYear == 0 {
				return fmt.Errorf("--year is required")
			}
			ctx := cmd.Context()

			db, err := store.Open(ctx, store.ConfigFromEnv(), logger)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer db.Close(context.Background())
			if err := db.EnsureIndexes(ctx, collections.NewRegistry(0, 0).CollectionNames()); err != nil {
				return err
			}
			writer := store.NewBatchWriter(db, logger)
			defer writer.Close()

			opts := []history.IngestorOption{
				history.WithCollections(flagCollections...),
				history.WithLogger(logger),
			}
			if cfg := publish.ConfigFromEnv(); cfg.Enabled() {
				pub, err := publish.Connect(cfg, logger)
				if err != nil {
					return fmt.Errorf("publisher: %w", err)
				}
				defer pub.Close()
				opts = append(opts, history.WithBroadcaster(pub))
			}

			ing := history.NewIngestor(schedule.NewClient(), history.NewArchive(logger), writer, opts...)
			return run(ctx, ing)
		},
	}
}
