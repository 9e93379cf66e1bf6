// Package steps runs an ordered list of named steps. A fatal step aborts the
// run on failure; an advisory step only records its error in the report.
package steps

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

type Step struct {
	Name  string
	Fatal bool
	Run   func(ctx context.Context) error
}

type Result struct {
	Name string
	Err  error
}

// Report collects the outcome of a run. Advisory failures never make the run
// itself fail.
type Report struct {
	Completed []Result
	Advisory  []Result
}

// Warnings returns the advisory failure count.
func (r *Report) Warnings() int { return len(r.Advisory) }

// Run executes the steps in order, stopping at the first fatal failure.
func Run(ctx context.Context, logger zerolog.Logger, list []Step) (*Report, error) {
	report := &Report{}
	for _, step := range list {
		logger.Info().Msgf("%s ...", step.Name)

		err := step.Run(ctx)
		if err == nil {
			report.Completed = append(report.Completed, Result{Name: step.Name})
			continue
		}

		if step.Fatal {
			return report, fmt.Errorf("%s: %w", step.Name, err)
		}

		logger.Warn().Err(err).Msgf("%s failed, continuing", step.Name)
		report.Advisory = append(report.Advisory, Result{Name: step.Name, Err: err})
	}
	return report, nil
}
