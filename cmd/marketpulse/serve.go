package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/seenimoa/marketpulse/internal/app"
)

// jobTimeout bounds a single scheduled run.
const jobTimeout = 30 * time.Minute

// scheduler triggers pipeline stages on cron specs. A run still in progress
// when its next tick fires is skipped.
type scheduler struct {
	app    *app.App
	cron   *cron.Cron
	logger arbor.ILogger
}

func newScheduler(a *app.App) *scheduler {
	return &scheduler{
		app:    a,
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: a.Logger,
	}
}

func (s *scheduler) register(name, spec string, run func(ctx context.Context) error) error {
	if spec == "" {
		s.logger.Info().Str("job_name", name).Msg("Job disabled")
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := run(ctx); err != nil {
			s.logger.Error().Str("job_name", name).Err(err).Msg("Scheduled job failed")
			return
		}
		s.logger.Info().Str("job_name", name).Dur("duration", time.Since(start)).Msg("Scheduled job completed")
	})
	if err != nil {
		return fmt.Errorf("failed to add job %s to cron: %w", name, err)
	}
	s.logger.Info().Str("job_name", name).Str("schedule", spec).Msg("Job registered")
	return nil
}

func (s *scheduler) start() error {
	sc := s.app.Config.Scheduler
	p := s.app.Pipeline

	if err := s.register("ingest", sc.Ingest, func(ctx context.Context) error {
		_, err := p.IngestAll(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := s.register("analyze", sc.Analyze, func(ctx context.Context) error {
		_, err := p.AnalyzePending(ctx, sc.PendingBatch)
		return err
	}); err != nil {
		return err
	}
	if err := s.register("cleanup", sc.Cleanup, func(ctx context.Context) error {
		_, err := p.Cleanup(ctx, sc.CleanupAfter)
		return err
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// stop waits for running jobs to finish.
func (s *scheduler) stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run ingestion, analysis and cleanup on their cron schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		s := newScheduler(a)
		if err := s.start(); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("marketpulse scheduler running, Ctrl+C to stop"))

		<-cmd.Context().Done()
		s.stop()

		st := a.Pipeline.Stats()
		a.Logger.Info().
			Int("new", int(st.New)).
			Int("scored", int(st.Scored)).
			Int("exhausted", int(st.Exhausted)).
			Msg("Shutting down")
		return nil
	},
}
