package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"ncaaf_v5/feedcache/internal/config"
	"ncaaf_v5/feedcache/internal/fetcher"
	"ncaaf_v5/feedcache/internal/window"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	var (
		printBody     bool
		respectWindow bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <source-id>",
		Short: "Fetch one source once and print the classified outcome",
		Long: "Fetch issues a single request for a source from the catalog, outside the scheduler. " +
			"It does not touch the cache or the rate limit budget of a running worker.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad()
			setupLogger(cfg)
			return fetchOnce(cmd.Context(), cfg, args[0], printBody, respectWindow)
		},
	}

	cmd.Flags().BoolVarP(&printBody, "print", "p", false, "write the payload to stdout")
	cmd.Flags().BoolVar(&respectWindow, "respect-window", false, "skip the fetch outside the source's active window")

	return cmd
}

func fetchOnce(ctx context.Context, cfg *config.Config, id string, printBody, respectWindow bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	descriptors, err := cfg.LoadSources()
	if err != nil {
		return err
	}

	f := fetcher.New(fetcher.WithVars(cfg.TemplateVars))
	for _, d := range descriptors {
		if d.ID != id {
			continue
		}
		if err := checkSource(f, &d, map[string]string{}); err != nil {
			return err
		}

		now := time.Now()
		if respectWindow && !window.IsWithinWindow(&d, now) {
			log.Info().
				Str("source", d.ID).
				Float64("hour", window.FractionalHour(now.In(d.Location()))).
				Msg("Outside active window, not fetching")
			return nil
		}

		url, _ := f.Resolve(&d, now)
		log.Info().Str("source", d.ID).Str("url", url).Msg("Fetching source")

		out := f.Fetch(ctx, &d, now)
		if !out.OK() {
			log.Error().
				Err(out.Failure).
				Str("source", d.ID).
				Str("reason", out.Failure.Reason.String()).
				Int("status", out.Failure.StatusCode).
				Dur("duration", out.Duration).
				Msg("Fetch failed")
			return out.Failure
		}

		log.Info().
			Str("source", d.ID).
			Int("status", out.StatusCode).
			Int("size", len(out.Payload)).
			Dur("duration", out.Duration).
			Msg("Fetch succeeded")

		if printBody {
			if _, err := os.Stdout.Write(append(out.Payload, '\n')); err != nil {
				return err
			}
		}
		return nil
	}

	return fmt.Errorf("unknown source %q", id)
}
