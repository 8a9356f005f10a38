package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"ncaaf_v5/feedcache/internal/config"
	"ncaaf_v5/feedcache/internal/fetcher"
	"ncaaf_v5/feedcache/internal/source"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Validate the source catalog and list each source's schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad()
			setupLogger(cfg)

			descriptors, err := cfg.LoadSources()
			if err != nil {
				return err
			}
			return listSources(cfg, descriptors, time.Now())
		},
	}
}

func listSources(cfg *config.Config, descriptors []source.Descriptor, now time.Time) error {
	f := fetcher.New(fetcher.WithVars(cfg.TemplateVars))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCACHE KEY\tSCHEDULE\tTIMEZONE\tWINDOW\tLIMIT\tTTL\tNEXT RUN\tURL")

	invalid := 0
	keys := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		if err := checkSource(f, &d, keys); err != nil {
			invalid++
			log.Error().Err(err).Str("source", d.ID).Msg("Invalid source")
			continue
		}

		sched, _ := source.ParseSchedule(&d)
		target, err := f.Resolve(&d, now)
		if err != nil {
			target = err.Error()
		}

		window := "-"
		if d.Window != nil {
			window = fmt.Sprintf("%g-%g", d.Window.Start, d.Window.End)
		}
		limit := "-"
		if n, per := d.Limit(); n > 0 {
			limit = fmt.Sprintf("%d/%s", n, per)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.CacheKey, sched.String(), d.Location(), window, limit, d.TTL,
			sched.Next(now.In(d.Location())).Format(time.RFC3339), target)
	}

	if err := w.Flush(); err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d sources are invalid", invalid, len(descriptors))
	}
	return nil
}

// checkSource applies the same checks as scheduler registration.
func checkSource(f *fetcher.Fetcher, d *source.Descriptor, keys map[string]string) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, err := source.ParseSchedule(d); err != nil {
		return err
	}
	if err := f.CheckTarget(d); err != nil {
		return err
	}
	if owner, ok := keys[d.CacheKey]; ok {
		return fmt.Errorf("cache key %q is already used by source %s", d.CacheKey, owner)
	}
	keys[d.CacheKey] = d.ID
	return nil
}
