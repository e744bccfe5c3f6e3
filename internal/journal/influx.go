package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	ferrors "fleet-trader/internal/errors"
	"fleet-trader/internal/fleet"
	"fleet-trader/internal/models"
)

// InfluxLog reads and writes the per-bot trade measurements.
type InfluxLog struct {
	client   client.Client
	database string
}

// NewInfluxLog wraps an InfluxDB client.
func NewInfluxLog(c client.Client, database string) *InfluxLog {
	return &InfluxLog{client: c, database: database}
}

// Trades returns every buy or sell recorded since the given time, oldest
// first. Rows without a direction, such as start-up markers, are skipped.
// Rows without a quantity count as one unit.
func (l *InfluxLog) Trades(ctx context.Context, since time.Time) ([]models.TradeLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from := make([]string, len(measurements))
	for i, m := range measurements {
		from[i] = strconv.Quote(m.name)
	}
	q := fmt.Sprintf("SELECT * FROM %s WHERE time >= '%s'", strings.Join(from, ","), since.UTC().Format(time.RFC3339))

	resp, err := l.client.Query(client.NewQuery(q, l.database, ""))
	if err != nil {
		return nil, ferrors.NewSinkError("influx", "trades", err)
	}
	if err := resp.Error(); err != nil {
		return nil, ferrors.NewSinkError("influx", "trades", err)
	}

	var out []models.TradeLogEntry
	for _, result := range resp.Results {
		for _, row := range result.Series {
			bot, ok := BotFor(row.Name)
			if !ok {
				continue
			}
			entries, err := decodeRows(bot, row.Columns, row.Values)
			if err != nil {
				return nil, ferrors.Wrapf(err, "decode %s", row.Name)
			}
			out = append(out, entries...)
		}
	}
	sortByTime(out)
	return out, nil
}

// Record writes entry to its bot's measurement.
func (l *InfluxLog) Record(ctx context.Context, e models.TradeLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	measurement := Measurement(fleet.BotName(e.Bot))
	kind := e.Kind
	if kind == "" {
		kind = strings.ToLower(string(e.Action))
	}

	bp, err := client.NewBatchPoints(client.BatchPointsConfig{Database: l.database, Precision: "ms"})
	if err != nil {
		return ferrors.NewSinkError("influx", measurement, err)
	}
	pt, err := client.NewPoint(measurement,
		map[string]string{"symbol": e.Symbol},
		map[string]interface{}{"price": e.Price, "qty": e.Quantity, "action": kind},
		e.Timestamp)
	if err != nil {
		return ferrors.NewSinkError("influx", measurement, err)
	}
	bp.AddPoint(pt)
	if err := l.client.Write(bp); err != nil {
		return ferrors.NewSinkError("influx", measurement, err)
	}
	return nil
}

func decodeRows(bot fleet.BotName, columns []string, values [][]interface{}) ([]models.TradeLogEntry, error) {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	get := func(row []interface{}, col string) interface{} {
		if i, ok := idx[col]; ok && i < len(row) {
			return row[i]
		}
		return nil
	}

	out := make([]models.TradeLogEntry, 0, len(values))
	for _, row := range values {
		kind := asString(get(row, "action"))
		action, ok := models.ParseTradeAction(kind)
		if !ok {
			continue
		}
		ts, err := asTime(get(row, "time"))
		if err != nil {
			return nil, err
		}
		symbol := asString(get(row, "symbol"))
		if symbol == "" {
			symbol = asString(get(row, "contract"))
		}
		qty := asFloat(get(row, "qty"))
		if get(row, "qty") == nil {
			qty = 1
		}
		out = append(out, models.TradeLogEntry{
			Timestamp: ts,
			Bot:       string(bot),
			Symbol:    symbol,
			Action:    action,
			Kind:      kind,
			Price:     asFloat(get(row, "price")),
			Quantity:  qty,
		})
	}
	return out, nil
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case json.Number:
		f, _ := x.Float64()
		return f
	case float64:
		return x
	case int64:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}

func asTime(v interface{}) (time.Time, error) {
	switch x := v.(type) {
	case string:
		return time.Parse(time.RFC3339Nano, x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(n, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected time value %v", v)
	}
}
