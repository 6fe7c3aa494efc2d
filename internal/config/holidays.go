package config

import (
	"bufio"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/cronexpr"
)

// DayWindow is one weekday's prime/non-prime boundary (spec §6.2 holidays
// file "weekly prime/non-prime schedule"). PrimeStart == PrimeEnd == -1
// means the whole day is non-prime (the original's "all" weekend lines).
type DayWindow struct {
	PrimeStartMin int // minutes since midnight, or -1
	PrimeEndMin   int
}

func (w DayWindow) isAllNonPrime() bool { return w.PrimeStartMin < 0 }

// Holidays is the parsed holidays file: the weekly template plus dated
// overrides (original_source: both forms live in one file, dated entries
// taking precedence for that date — spec.md §3.2 supplement).
type Holidays struct {
	Weekly [7]DayWindow // indexed by time.Weekday
	Dated  map[string]DayWindow // "YYYYMMDD" -> override, "" value key unused

	boundaries []*cronexpr.Expression
}

// ParseHolidays reads the weekly template and dated override lines. Grammar
// (spec §6.2, simplified to what a reimplementation needs rather than every
// historical field of the original file):
//
//	SUNDAY    all
//	MONDAY    0600 1730
//	...
//	20260704  all
//
// A line is a weekday name or a YYYYMMDD date, followed by "all" or two
// HHMM times; blank lines and lines starting with '#' are skipped. There is
// no yearly recurring form, and text after "all" makes the line an error.
func ParseHolidays(fsys fs.FS, path string) (*Holidays, error) {
	h := &Holidays{Dated: map[string]DayWindow{}}
	for i := range h.Weekly {
		h.Weekly[i] = DayWindow{PrimeStartMin: -1, PrimeEndMin: -1}
	}

	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open holidays %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		day := strings.ToUpper(fields[0])
		win, err := parseWindow(fields[1:])
		if err != nil {
			return nil, fmt.Errorf("config: holidays line %q: %w", line, err)
		}
		if wd, ok := weekdayNames[day]; ok {
			h.Weekly[wd] = win
			continue
		}
		h.Dated[day] = win
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading holidays %q: %w", path, err)
	}

	h.compileBoundaries()
	return h, nil
}

var weekdayNames = map[string]time.Weekday{
	"SUNDAY": time.Sunday, "MONDAY": time.Monday, "TUESDAY": time.Tuesday,
	"WEDNESDAY": time.Wednesday, "THURSDAY": time.Thursday,
	"FRIDAY": time.Friday, "SATURDAY": time.Saturday,
}

func parseWindow(fields []string) (DayWindow, error) {
	if len(fields) == 1 && strings.EqualFold(fields[0], "all") {
		return DayWindow{PrimeStartMin: -1, PrimeEndMin: -1}, nil
	}
	if len(fields) < 2 {
		return DayWindow{}, fmt.Errorf("expected 'all' or two HHMM times")
	}
	start, err := parseHHMM(fields[0])
	if err != nil {
		return DayWindow{}, err
	}
	end, err := parseHHMM(fields[1])
	if err != nil {
		return DayWindow{}, err
	}
	return DayWindow{PrimeStartMin: start, PrimeEndMin: end}, nil
}

func parseHHMM(s string) (int, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("bad HHMM %q", s)
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil {
		return 0, fmt.Errorf("bad HHMM %q: %w", s, err)
	}
	m, err := strconv.Atoi(s[2:])
	if err != nil {
		return 0, fmt.Errorf("bad HHMM %q: %w", s, err)
	}
	return h*60 + m, nil
}

// compileBoundaries renders each weekday's prime start/end as a recurring
// cron expression (spec domain-stack: weekly windows are the recurring
// part of this schedule, so they're what cronexpr is for; one-shot dated
// overrides are handled directly by date comparison in IsPrimetime/
// NextBoundary instead — cronexpr buys nothing over a plain date check for
// an event that by definition never recurs).
func (h *Holidays) compileBoundaries() {
	h.boundaries = nil
	for wd, win := range h.Weekly {
		if win.isAllNonPrime() {
			continue
		}
		for _, min := range []int{win.PrimeStartMin, win.PrimeEndMin} {
			line := fmt.Sprintf("%d %d * * %d", min%60, min/60, wd)
			if expr, err := cronexpr.Parse(line); err == nil {
				h.boundaries = append(h.boundaries, expr)
			}
		}
	}
}

// IsPrimetime reports whether t falls within primetime, checking a dated
// override before the weekly template (spec.md §3.2 supplement: "dated
// entries taking precedence over the weekly template for that date").
func (h *Holidays) IsPrimetime(t time.Time) bool {
	win, ok := h.Dated[t.Format("20060102")]
	if !ok {
		win = h.Weekly[t.Weekday()]
	}
	if win.isAllNonPrime() {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= win.PrimeStartMin && minutes < win.PrimeEndMin
}

// NextBoundary returns the next time primetime status changes after from,
// used to seed the calendar's policy-change event (spec §3.8). Dated
// overrides are checked for the remainder of the current calendar day only
// (a one-shot override doesn't recur, so it can only move the boundary that
// falls on its own date); everything past that relies on the compiled
// weekly cron expressions.
func (h *Holidays) NextBoundary(from time.Time) time.Time {
	best := time.Time{}
	for _, expr := range h.boundaries {
		next := expr.Next(from)
		if best.IsZero() || next.Before(best) {
			best = next
		}
	}

	today := from.Format("20060102")
	if win, ok := h.Dated[today]; ok && !win.isAllNonPrime() {
		for _, min := range []int{win.PrimeStartMin, win.PrimeEndMin} {
			candidate := time.Date(from.Year(), from.Month(), from.Day(), min/60, min%60, 0, 0, from.Location())
			if candidate.After(from) && (best.IsZero() || candidate.Before(best)) {
				best = candidate
			}
		}
	}
	return best
}
