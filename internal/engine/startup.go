package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrNotRunning is returned by EnsureReady when the model server does not
// answer.
var ErrNotRunning = errors.New("model server is not running; start it with: ollama serve")

// progressStep is the percentage granularity of pull progress lines.
const progressStep = 10

// EnsureReady makes every named model available on e before the first
// request needs it, pulling the missing ones. Progress goes to w. Empty and
// repeated names are ignored.
func EnsureReady(ctx context.Context, e Engine, w io.Writer, models ...string) error {
	if !e.IsRunning(ctx) {
		return ErrNotRunning
	}

	seen := make(map[string]struct{}, len(models))
	for _, model := range models {
		if _, dup := seen[model]; model == "" || dup {
			continue
		}
		seen[model] = struct{}{}

		if !e.HasModel(ctx, model) {
			slog.Info("pulling model", "model", model)
			fmt.Fprintf(w, "model %s: pulling...\n", model)
			if err := e.PullModel(ctx, model, progressPrinter(w)); err != nil {
				return fmt.Errorf("pulling model %s: %w", model, err)
			}
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}

// progressPrinter writes a line when the pull status changes or the
// download crosses another progressStep percent. Ollama reports every few
// kilobytes, which would otherwise flood the terminal.
func progressPrinter(w io.Writer) func(PullProgress) {
	var lastStatus string
	lastBucket := -1
	return func(p PullProgress) {
		pct := p.Percent()
		bucket := -1
		if pct >= 0 {
			bucket = pct / progressStep
		}
		if p.Status == lastStatus && bucket == lastBucket {
			return
		}
		lastStatus, lastBucket = p.Status, bucket

		if pct < 0 {
			fmt.Fprintf(w, "  %s\n", p.Status)
			return
		}
		fmt.Fprintf(w, "  %s %d%%\n", p.Status, pct)
	}
}
