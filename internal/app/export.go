package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goldwatch/internal/report"
)

// Export renders stored readings as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Today && (opts.From != nil || opts.To != nil) {
		return errors.New("--today cannot be combined with --from or --to")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	// default window: one day ending at --to
	from := to.Add(-24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if opts.Today {
		from, to = a.todayWindow(time.Now())
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	readings, err := store.ListReadingsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no readings found for export window")
		return nil
	}

	downsampled := report.Downsample(readings, opts.MaxPoints)
	a.Logger.Info().Int("total", len(readings)).Int("exported", len(downsampled)).Msg("exporting readings")

	if opts.CSVPath != "" {
		if err := report.WriteCSVFile(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		err := report.WritePNGFile(opts.PNGPath, downsampled, report.ChartOptions{
			Title:    chartTitle(from, to, a.Config.Location()),
			YLabel:   fmt.Sprintf("%s / %s", a.Config.Alert.Currency, a.Config.Source.Unit),
			Location: a.Config.Location(),
		})
		if errors.Is(err, report.ErrNotEnoughData) {
			a.Logger.Warn().Msg("skipping chart; fewer than two readings in window")
		} else if err != nil {
			return err
		}
	}

	return nil
}

func chartTitle(from, to time.Time, loc *time.Location) string {
	from, to = from.In(loc), to.In(loc)
	if to.Sub(from) <= 24*time.Hour && from.Format(time.DateOnly) == to.Add(-time.Nanosecond).Format(time.DateOnly) {
		return fmt.Sprintf("Gold price %s", from.Format(time.DateOnly))
	}
	return fmt.Sprintf("Gold price %s to %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
}
