package steps

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_StopsAtFirstFatal(t *testing.T) {
	var order []string
	step := func(name string, fatal bool, err error) Step {
		return Step{Name: name, Fatal: fatal, Run: func(context.Context) error {
			order = append(order, name)
			return err
		}}
	}

	report, err := Run(context.Background(), zerolog.Nop(), []Step{
		step("first", true, nil),
		step("boom", true, fmt.Errorf("broken")),
		step("never", true, nil),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"first", "boom"}, order)
	assert.Len(t, report.Completed, 1)
}

func TestRun_AdvisoryFailuresCollected(t *testing.T) {
	report, err := Run(context.Background(), zerolog.Nop(), []Step{
		{Name: "ok", Run: func(context.Context) error { return nil }},
		{Name: "warn", Run: func(context.Context) error { return fmt.Errorf("degraded") }},
		{Name: "after", Run: func(context.Context) error { return nil }},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Warnings())
	assert.Equal(t, "warn", report.Advisory[0].Name)
	assert.Len(t, report.Completed, 2)
}
