package types

import (
	"fmt"
	"time"
)

const yearMonthLayout = "2006-01"

// YearMonth is a calendar month without a day component, used for the
// covered transaction range reported by ingestion.
type YearMonth struct {
	Year  int
	Month time.Month
}

func NewYearMonth(year int, month time.Month) YearMonth {
	return YearMonth{Year: year, Month: month}
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

// After reports whether ym is strictly later than other.
func (ym YearMonth) After(other YearMonth) bool {
	return other.Before(ym)
}

func (ym YearMonth) MarshalText() ([]byte, error) {
	return []byte(ym.String()), nil
}

func (ym *YearMonth) UnmarshalText(data []byte) error {
	t, err := time.Parse(yearMonthLayout, string(data))
	if err != nil {
		return fmt.Errorf("invalid year-month %q: %w", data, err)
	}
	ym.Year = t.Year()
	ym.Month = t.Month()
	return nil
}
