// Package transform converts driver-native source values into values the
// document sink can store.
package transform

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	migerr "github.com/acme-corp/pg-mongo-migrator/internal/errors"
	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
)

// Normalize applies the value policy:
//
//	fixed-point decimal  -> float64 (precision loss accepted); NaN and
//	                        infinities -> "NaN", "Infinity", "-Infinity"
//	calendar date        -> time.Time at midnight UTC, same calendar date
//	interval             -> ISO 8601 duration string, e.g. "P1Y2M3DT4H5M6S"
//	time of day          -> "15:04:05[.ffffff]"
//	inet, cidr           -> address string in CIDR notation
//	json, jsonb, arrays  -> map[string]any / []any, elements normalized
//	nil                  -> nil
//	other scalars        -> unchanged
//
// Any other type is a configuration error.
func Normalize(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case pgtype.Numeric:
		return numericToFloat(v)
	case *pgtype.Numeric:
		if v == nil {
			return nil, nil
		}
		return numericToFloat(*v)
	case pgtype.Date:
		return dateToTime(v), nil
	case *pgtype.Date:
		if v == nil {
			return nil, nil
		}
		return dateToTime(*v), nil
	case pgtype.Interval:
		return intervalToString(v), nil
	case pgtype.Time:
		return timeOfDay(v), nil
	case netip.Prefix:
		if !v.IsValid() {
			return nil, nil
		}
		return v.String(), nil
	case netip.Addr:
		if !v.IsValid() {
			return nil, nil
		}
		return v.String(), nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case bool, string, []byte, time.Time, [16]byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	default:
		return nil, migerr.Configurationf("normalize", "unsupported source type %T", value)
	}
}

func numericToFloat(n pgtype.Numeric) (any, error) {
	switch {
	case !n.Valid:
		return nil, nil
	case n.NaN:
		return "NaN", nil
	case n.InfinityModifier == pgtype.Infinity:
		return "Infinity", nil
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity", nil
	}
	f, err := n.Float64Value()
	if err != nil {
		return nil, migerr.NewConfiguration("normalize", fmt.Errorf("numeric to float: %w", err))
	}
	return f.Float64, nil
}

func dateToTime(d pgtype.Date) any {
	if !d.Valid {
		return nil
	}
	if d.InfinityModifier != pgtype.Finite {
		return d.InfinityModifier.String()
	}
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// intervalToString renders the interval in ISO 8601 form. Each component keeps
// its own sign, as Postgres does with intervalstyle iso_8601.
func intervalToString(iv pgtype.Interval) any {
	if !iv.Valid {
		return nil
	}
	var b strings.Builder
	b.WriteByte('P')
	if y := iv.Months / 12; y != 0 {
		fmt.Fprintf(&b, "%dY", y)
	}
	if m := iv.Months % 12; m != 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	if iv.Days != 0 {
		fmt.Fprintf(&b, "%dD", iv.Days)
	}
	if us := iv.Microseconds; us != 0 {
		b.WriteByte('T')
		h := us / int64(time.Hour/time.Microsecond)
		us -= h * int64(time.Hour/time.Microsecond)
		m := us / int64(time.Minute/time.Microsecond)
		us -= m * int64(time.Minute/time.Microsecond)
		if h != 0 {
			fmt.Fprintf(&b, "%dH", h)
		}
		if m != 0 {
			fmt.Fprintf(&b, "%dM", m)
		}
		if us != 0 {
			b.WriteString(strconv.FormatFloat(float64(us)/1e6, 'f', -1, 64))
			b.WriteByte('S')
		}
	}
	if b.Len() == 1 {
		return "PT0S"
	}
	return b.String()
}

// timeOfDay renders a time without time zone. 24:00:00 is a valid value.
func timeOfDay(t pgtype.Time) any {
	if !t.Valid {
		return nil
	}
	if t.Microseconds >= int64(24*time.Hour/time.Microsecond) {
		return "24:00:00"
	}
	return time.UnixMicro(t.Microseconds).UTC().Format("15:04:05.999999")
}

// Row normalizes one fetched row into a Record, keeping column order.
func Row(columns []string, values []any) (ingestion.Record, error) {
	if len(columns) != len(values) {
		return nil, migerr.Configurationf("normalize", "row has %d values for %d columns", len(values), len(columns))
	}
	rec := make(ingestion.Record, len(columns))
	for i, col := range columns {
		v, err := Normalize(values[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		rec[i] = ingestion.Field{Name: col, Value: v}
	}
	return rec, nil
}

// Rows normalizes a whole page. The first unsupported value fails the page.
func Rows(rs *ingestion.RowSet) ([]ingestion.Record, error) {
	if rs.Len() == 0 {
		return nil, nil
	}
	records := make([]ingestion.Record, 0, len(rs.Rows))
	for i, row := range rs.Rows {
		rec, err := Row(rs.Columns, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
