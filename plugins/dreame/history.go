package dreame

import (
	"context"
	"fmt"
	"time"
)

const areaUnitsPerSquareMeter = 1000000

// HistoryForDay fetches the cleaning runs for day. day is either a time.Time
// or a record id as returned by the device's history summary.
func HistoryForDay(ctx context.Context, caller Caller, day any) (DayHistory, error) {
	record := day
	if t, ok := day.(time.Time); ok {
		record = t.Unix()
	}
	result, err := caller.Call(ctx, MethodCleanRecord, []any{record})
	if err != nil {
		return DayHistory{}, fmt.Errorf("clean record: %w", err)
	}
	rows, ok := result.([]any)
	if !ok && result != nil {
		return DayHistory{}, fmt.Errorf("clean record: unexpected result %T", result)
	}
	history := make([]HistoryRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeHistoryRecord(row)
		if err != nil {
			return DayHistory{}, err
		}
		history = append(history, rec)
	}
	return DayHistory{Day: day, History: history}, nil
}

func decodeHistoryRecord(row any) (HistoryRecord, error) {
	fields, ok := row.([]any)
	if !ok || len(fields) < 6 {
		return HistoryRecord{}, fmt.Errorf("clean record: malformed entry %v", row)
	}
	return HistoryRecord{
		Start:           time.Unix(int64(floatFrom(fields[0])), 0),
		End:             time.Unix(int64(floatFrom(fields[1])), 0),
		DurationSeconds: intFrom(fields[2]),
		AreaSquareM:     floatFrom(fields[3]) / areaUnitsPerSquareMeter,
		Complete:        intFrom(fields[5]) == 1,
	}, nil
}
