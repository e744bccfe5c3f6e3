package journal

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	"fleet-trader/internal/models"
)

type exportRow struct {
	Time   string  `csv:"time"`
	Symbol string  `csv:"symbol"`
	Action string  `csv:"action"`
	Price  float64 `csv:"price"`
	Qty    float64 `csv:"qty"`
	Bot    string  `csv:"bot_type"`
	Kind   string  `csv:"kind"`
}

// WriteCSV writes entries newest first.
func WriteCSV(w io.Writer, entries []models.TradeLogEntry) error {
	rows := make([]*exportRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, &exportRow{
			Time:   e.Timestamp.UTC().Format(time.RFC3339),
			Symbol: e.Symbol,
			Action: string(e.Action),
			Price:  e.Price,
			Qty:    e.Quantity,
			Bot:    e.Bot,
			Kind:   e.Kind,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time > rows[j].Time })
	return gocsv.Marshal(&rows, w)
}

// Export reads the trade history since the given time and writes it as CSV.
// It returns the number of rows written.
func Export(ctx context.Context, log TradeLog, since time.Time, w io.Writer) (int, error) {
	entries, err := log.Trades(ctx, since)
	if err != nil {
		return 0, err
	}
	if err := WriteCSV(w, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
