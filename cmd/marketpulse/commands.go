package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seenimoa/marketpulse/internal/pipeline"
	"github.com/seenimoa/marketpulse/pkg/models"
	"github.com/seenimoa/marketpulse/pkg/utils"
)

// --- Sources Command ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List feed sources and their health",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sources, err := a.Catalog.List(cmd.Context())
		if err != nil {
			return err
		}
		now := time.Now()
		fmt.Println(headerStyle.Render(fmt.Sprintf("%d sources", len(sources))))
		for _, s := range sources {
			state := successStyle.Render("active")
			switch {
			case !s.Active:
				state = dimStyle.Render("inactive")
			case !s.Healthy(now):
				state = warningStyle.Render("unhealthy until " + utils.FormatDateTimeIST(s.UnhealthyUntil))
			}
			last := "never"
			if !s.LastFetchedAt.IsZero() {
				last = utils.FormatDateTimeIST(s.LastFetchedAt)
			}
			fmt.Printf("  %s %s\n", sourceStyle.Render(fmt.Sprintf("%-24s", s.ID)), state)
			fmt.Printf("    %s  %s  %s\n", dimStyle.Render(s.Category), s.URL, dimStyle.Render("last fetch: "+last))
		}
		return nil
	},
}

// --- Ingest Command ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch feeds and store new articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var reports []pipeline.IngestReport
		if id, _ := cmd.Flags().GetString("source"); id != "" {
			rep, err := a.Pipeline.Ingest(cmd.Context(), id)
			if err != nil {
				return err
			}
			reports = []pipeline.IngestReport{*rep}
		} else if reports, err = a.Pipeline.IngestAll(cmd.Context()); err != nil {
			return err
		}

		newCount := 0
		for _, r := range reports {
			newCount += len(r.New)
			if r.Failed {
				fmt.Printf("  %s %s\n", sourceStyle.Render(fmt.Sprintf("%-24s", r.Source.ID)), errorStyle.Render("failed: "+r.Reason))
				continue
			}
			fmt.Printf("  %s %3d new  %3d dup  %3d near  %3d malformed\n",
				sourceStyle.Render(fmt.Sprintf("%-24s", r.Source.ID)),
				len(r.New), r.Duplicates, r.NearDuplicates, r.Malformed)
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("%d new articles from %d sources", newCount, len(reports))))
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("source", "", "ingest a single source by id")
}

// --- Analyze Command ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [article-id]",
	Short: "Recognize entities and score sentiment",
	Long:  "Analyze one article by id, or run a pass over unanalyzed articles with --pending.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 0 {
			limit, _ := cmd.Flags().GetInt("pending")
			rep, err := a.Pipeline.AnalyzePending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Println(kv("Attempted", fmt.Sprintf("%d", rep.Attempted)))
			fmt.Println(kv("Analyzed", successStyle.Render(fmt.Sprintf("%d", rep.Analyzed))))
			fmt.Println(kv("Unscored", warningStyle.Render(fmt.Sprintf("%d", rep.Unscored))))
			fmt.Println(kv("Failed", errorStyle.Render(fmt.Sprintf("%d", rep.Failed))))
			return nil
		}

		an, err := a.Pipeline.Analyze(cmd.Context(), args[0])
		if err != nil && !errors.Is(err, pipeline.ErrUnscored) {
			return err
		}
		fmt.Println(headerStyle.Render("Article " + an.ArticleID))
		fmt.Println(kv("Instruments", strings.Join(an.Recognition.Symbols(), ", ")))
		fmt.Println(kv("Sectors", strings.Join(an.Recognition.SectorNames(), ", ")))
		for _, s := range an.Scores {
			scope := s.Scope()
			fmt.Printf("  %-28s %s  %s  %s\n",
				scope.Key(),
				scoreText(s.Composite),
				labelStyle(s.Label).Render(string(s.Label)),
				dimStyle.Render(fmt.Sprintf("confidence %.2f", s.Confidence)))
		}
		for _, scope := range an.Unscored {
			fmt.Printf("  %-28s %s\n", scope.Key(), warningStyle.Render("unscored"))
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Int("pending", 50, "maximum unanalyzed articles to process when no id is given")
}

// --- Aggregate Command ---

var aggregateCmd = &cobra.Command{
	Use:   "aggregate instrument|sector|market [id]",
	Short: "Show the rolling sentiment aggregate for an entity",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := models.EntityKey{Kind: models.EntityKind(args[0])}
		switch key.Kind {
		case models.EntityInstrument:
			if len(args) < 2 {
				return fmt.Errorf("instrument symbol is required")
			}
			key.ID = utils.NormalizeSymbol(args[1])
		case models.EntitySector:
			if len(args) < 2 {
				return fmt.Errorf("sector name is required")
			}
			key.ID = strings.ToLower(args[1])
		case models.EntityMarket:
		default:
			return fmt.Errorf("unknown entity kind %q", args[0])
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.Pipeline.Aggregate(cmd.Context(), key, windowFlag(cmd))
		if err != nil {
			return err
		}
		printSnapshot(snap)
		return nil
	},
}

func init() {
	aggregateCmd.Flags().Duration("window", 0, "aggregation window (default from config)")
}

// --- Sectors Command ---

var sectorsCmd = &cobra.Command{
	Use:   "sectors",
	Short: "Sector rotation, trending and correlation",
}

var rotationCmd = &cobra.Command{
	Use:   "rotation [sector]",
	Short: "Compare each sector's sentiment with the previous window",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		window := windowFlag(cmd)
		var signals []models.RotationSignal
		if len(args) == 1 {
			sig, err := a.Aggregator.Rotation(cmd.Context(), strings.ToLower(args[0]), window)
			if err != nil {
				return err
			}
			signals = []models.RotationSignal{*sig}
		} else if signals, err = a.Aggregator.RotationSignals(cmd.Context(), window); err != nil {
			return err
		}

		if len(signals) == 0 {
			fmt.Println(dimStyle.Render("no rotation signals"))
			return nil
		}
		for _, s := range signals {
			style := dimStyle
			switch s.Signal {
			case models.RotationBullish:
				style = successStyle
			case models.RotationBearish:
				style = errorStyle
			}
			fmt.Printf("  %-20s %s  %s → %s  %s\n",
				s.Sector, style.Render(fmt.Sprintf("%-8s", s.Signal)),
				scoreText(s.Previous), scoreText(s.Current),
				dimStyle.Render(fmt.Sprintf("(%d → %d articles)", s.PreviousCount, s.CurrentCount)))
		}
		return nil
	},
}

var trendingCmd = &cobra.Command{
	Use:   "trending",
	Short: "Rank sectors by sentiment magnitude and volume",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		trending, err := a.Aggregator.Trending(cmd.Context(), windowFlag(cmd), limit)
		if err != nil {
			return err
		}
		if len(trending) == 0 {
			fmt.Println(dimStyle.Render("no sector has enough articles"))
			return nil
		}
		for i, t := range trending {
			fmt.Printf("  %2d. %-20s %7.2f  %s  %s\n", i+1, t.Sector, t.TrendScore,
				scoreText(t.Average), dimStyle.Render(fmt.Sprintf("%d articles", t.ArticleCount)))
		}
		return nil
	},
}

var correlationCmd = &cobra.Command{
	Use:   "correlation <sector-a> <sector-b>",
	Short: "Pearson correlation of two sectors' score series",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Aggregator.Correlation(cmd.Context(), strings.ToLower(args[0]), strings.ToLower(args[1]), windowFlag(cmd))
		if err != nil {
			return err
		}
		fmt.Println(kv("Correlation", fmt.Sprintf("%+.3f", r)))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{rotationCmd, trendingCmd, correlationCmd} {
		c.Flags().Duration("window", 0, "aggregation window (default from config)")
		sectorsCmd.AddCommand(c)
	}
	trendingCmd.Flags().Int("limit", 10, "maximum sectors to show")
}

// --- Summary Command ---

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Market-wide sentiment summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.Pipeline.Summary(cmd.Context(), windowFlag(cmd))
		if err != nil {
			return err
		}
		fmt.Println(headerStyle.Render("Market summary " + sum.Date))
		printSnapshot(&sum.Market)

		names := make([]string, 0, len(sum.Sectors))
		for name := range sum.Sectors {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println()
		fmt.Println(sectionStyle.Render("Sectors"))
		for _, name := range names {
			s := sum.Sectors[name]
			fmt.Printf("  %-20s %s  %s\n", name, scoreText(s.Average), dimStyle.Render(fmt.Sprintf("%d articles", s.ArticleCount)))
		}

		if len(sum.Trending) > 0 {
			fmt.Println()
			fmt.Println(sectionStyle.Render("Trending"))
			for i, t := range sum.Trending {
				fmt.Printf("  %d. %s (%.2f)\n", i+1, t.Sector, t.TrendScore)
			}
		}
		if len(sum.Rotation) > 0 {
			fmt.Println()
			fmt.Println(sectionStyle.Render("Rotation"))
			for _, r := range sum.Rotation {
				fmt.Printf("  %-20s %s %+.3f\n", r.Sector, r.Signal, r.SentimentChange)
			}
		}
		return nil
	},
}

func init() {
	summaryCmd.Flags().Duration("window", 0, "aggregation window (default from config)")
}

// --- Cleanup Command ---

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old unanalyzed articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		older, _ := cmd.Flags().GetDuration("older-than")
		if older <= 0 {
			older = cfg.Scheduler.CleanupAfter
		}
		n, err := a.Pipeline.Cleanup(cmd.Context(), older)
		if err != nil {
			return err
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("deleted %d unanalyzed articles older than %s", n, older)))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Duration("older-than", 0, "age cutoff (default scheduler.cleanup_after)")
}
