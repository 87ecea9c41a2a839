package streaming

import (
	"fmt"
	"strings"
	"time"
)

// DayBoundary 日线切换的时区策略。
// 默认 UTC：每根 bar 正好 86400s；选了有夏令时的时区，切换日会是 23h / 25h。
type DayBoundary struct {
	loc *time.Location
}

func UTCDays() DayBoundary { return DayBoundary{loc: time.UTC} }

func LocationDays(loc *time.Location) DayBoundary {
	if loc == nil {
		loc = time.UTC
	}
	return DayBoundary{loc: loc}
}

// ParseDayBoundary "utc"（或空）/ "local" / IANA 时区名，例如 "America/New_York"
func ParseDayBoundary(s string) (DayBoundary, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utc":
		return UTCDays(), nil
	case "local":
		return LocationDays(time.Local), nil
	}
	loc, err := time.LoadLocation(s)
	if err != nil {
		return DayBoundary{}, fmt.Errorf("day boundary %q: %w", s, err)
	}
	return LocationDays(loc), nil
}

func (b DayBoundary) location() *time.Location {
	if b.loc == nil {
		return time.UTC
	}
	return b.loc
}

func (b DayBoundary) String() string { return b.location().String() }

// Next 同一墙上时间的下一个自然日（毫秒）
func (b DayBoundary) Next(barMs int64) int64 {
	t := time.UnixMilli(barMs).In(b.location())
	return t.AddDate(0, 0, 1).UnixMilli()
}

// StartOf tsMs 所在自然日的零点（毫秒）
func (b DayBoundary) StartOf(tsMs int64) int64 {
	t := time.UnixMilli(tsMs).In(b.location())
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, b.location()).UnixMilli()
}
