package cron

import (
	"context"
	"log/slog"
	"testing"

	"github.com/robfig/cron/v3"
)

type exprJob string

func (e exprJob) Name() string                { return "fuzz" }
func (e exprJob) Schedule() string            { return string(e) }
func (e exprJob) Run(_ context.Context) error { return nil }

// Start must accept exactly the expressions the five-field parser accepts
// and never panic on the rest.
func FuzzSchedulerStart(f *testing.F) {
	for _, seed := range []string{
		(&TokenRefreshJob{}).Schedule(), (&CleanupJob{}).Schedule(), (&AnalyticsSyncJob{}).Schedule(),
		"@daily", "invalid", "", "60 * * * *", "0 25 * * *", "* * * * * *",
	} {
		f.Add(seed)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	f.Fuzz(func(t *testing.T, expr string) {
		s := NewScheduler(Options{Logger: slog.New(slog.DiscardHandler)})
		if err := s.RegisterJob(exprJob(expr)); err != nil {
			t.Fatal(err)
		}
		startErr := s.Start()
		_, parseErr := parser.Parse(expr)
		if (startErr == nil) != (parseErr == nil) {
			t.Fatalf("Start(%q) = %v, parser = %v", expr, startErr, parseErr)
		}
		_ = s.Stop(context.Background())
	})
}
