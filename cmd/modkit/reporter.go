package modkit

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"

	"github.com/arthur-debert/modkit/pkg/logging"
	"github.com/arthur-debert/modkit/pkg/progress"
)

// newReporter renders progress bars when out is a terminal and logs
// events otherwise
func newReporter(out io.Writer) progress.Reporter {
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return &terminalReporter{
			out:  out,
			bars: make(map[progress.Step]*pterm.ProgressbarPrinter),
		}
	}
	logger := logging.GetLogger("progress")
	return progress.Func(func(e progress.Event) {
		ev := logger.Debug()
		if e.Err != nil {
			ev = logger.Warn().Err(e.Err)
		}
		ev.Str("step", string(e.Step)).
			Str("item", e.Item).
			Int("done", e.Done).
			Int("total", e.Total).
			Int("attempt", e.Attempt).
			Msg("Progress")
	})
}

// terminalReporter keeps one bar per counted step. Events arrive from the
// fetch pool concurrently.
type terminalReporter struct {
	mu   sync.Mutex
	out  io.Writer
	bars map[progress.Step]*pterm.ProgressbarPrinter
}

var stepTitles = map[progress.Step]string{
	progress.StepResolving:  "Resolving",
	progress.StepFetching:   "Downloading",
	progress.StepApplying:   "Installing",
	progress.StepCommitting: "Saving",
	progress.StepRemoving:   "Removing",
	progress.StepVerifying:  "Verifying",
}

func (r *terminalReporter) Report(e progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case e.Err != nil:
		pterm.Warning.WithWriter(r.out).Printfln("%s: %v", e.Item, e.Err)
		return
	case e.Attempt > 1:
		pterm.Info.WithWriter(r.out).Printfln("retrying %s (attempt %d)", e.Item, e.Attempt)
		return
	case e.Step == progress.StepRemoving:
		pterm.Info.WithWriter(r.out).Printfln("removed %s", e.Item)
		return
	case e.Total <= 0:
		return
	}

	bar := r.bars[e.Step]
	if bar == nil {
		var err error
		bar, err = pterm.DefaultProgressbar.
			WithWriter(r.out).
			WithTotal(e.Total).
			WithTitle(stepTitles[e.Step]).
			WithRemoveWhenDone(true).
			Start()
		if err != nil {
			return
		}
		r.bars[e.Step] = bar
	}
	if e.Done > bar.Current {
		bar.Add(e.Done - bar.Current)
	}
	if e.Done >= e.Total {
		_, _ = bar.Stop()
		delete(r.bars, e.Step)
	}
}
