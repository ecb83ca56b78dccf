package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"goldwatch/internal/storage"
)

// Show prints the most recent readings, newest first.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var readings []storage.Reading
	if opts.Today {
		from, to := a.todayWindow(time.Now())
		readings, err = store.ListReadingsBetween(ctx, from, to)
	} else {
		readings, err = store.ListRecentReadings(ctx, opts.Limit)
	}
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Fprintln(out, "no readings found")
		return nil
	}

	writeReadings(out, readings, a.Config.Location(), a.Config.Alert.Currency)
	if opts.Today {
		low := lowestReading(readings)
		fmt.Fprintf(out, "today's low: %s %s at %s\n", low.Price.StringFixed(2), a.Config.Alert.Currency,
			low.Timestamp.In(a.Config.Location()).Format(time.TimeOnly))
	}
	return nil
}

// lowestReading returns the first reading holding the minimum price.
func lowestReading(readings []storage.Reading) storage.Reading {
	low := readings[0]
	for _, r := range readings[1:] {
		if r.Price.LessThan(low.Price) {
			low = r
		}
	}
	return low
}

func writeReadings(out io.Writer, readings []storage.Reading, loc *time.Location, currency string) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "ID\tTime (%s)\tPrice (%s)\n", loc, currency)

	for _, r := range readings {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\n",
			r.ID,
			r.Timestamp.In(loc).Format(time.RFC3339),
			r.Price.StringFixed(2),
		)
	}

	writer.Flush()
}
