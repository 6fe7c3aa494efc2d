// Package config parses the on-disk inputs described in spec.md §6.2:
// sched_config's line-oriented `key: value` grammar with `#include`
// directives, the holidays file (weekly prime/non-prime template plus
// dated overrides), and the fairshare tree definition. None of it is
// config-library territory: the grammar is bespoke, line-oriented, and
// `#`-commented, with no schema a generic library (viper, koanf, envconfig)
// models — every pack repo that needs this shape (nomad's own HCL config is
// a different, heavier grammar entirely) hand-rolls its own line scanner,
// so this package does too; justified in DESIGN.md. Config *reload*,
// conversely, follows the plain atomic-pointer-swap idiom common across the
// corpus (cuemby-warren's cmd/warren/main.go signal-driven shutdown is the
// nearest grounding for the surrounding signal plumbing, generalized here
// from "signal means stop" to "SIGHUP means reload, SIGTERM means drain").
package config

import (
	"bufio"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// SortKey is one job_sort_key entry (spec §4.L step 3 multi-key sort).
type SortKey struct {
	Resource  string
	Ascending bool // false == HIGH (descending), true == LOW (ascending)
}

// Sched is the parsed sched_config contents (spec §6.2).
type Sched struct {
	RoundRobin     bool
	ByQueue        bool
	StrictOrdering bool
	Backfill       bool

	SortKeys       []SortKey
	JobSortFormula string // raw expression text, fed to internal/formula.Parse
	FormulaThreshold float64

	SmpClusterDist string // "pack" | "round_robin" | "lowest_load" | "highest_load"

	DedicatedTimeFile string
	PreemptOrder      string // e.g. "SCR": suspend, checkpoint, requeue
	PreemptPrio       []string
	PreemptQueuePrio  int

	ResourcesToCheck []string
	BackfillDepth    int

	// Raw carries every key:value pair seen, including ones with no
	// dedicated field above, so a caller can consult a site-specific key
	// without this package needing to know every directive in advance.
	Raw map[string]string
}

// ParseSched reads path from fsys, following `#include "other"` directives
// relative to fsys's root (spec §6.2: "lines of key: value with include
// directives"). Include cycles are rejected.
func ParseSched(fsys fs.FS, path string) (*Sched, error) {
	s := &Sched{Raw: map[string]string{}}
	var errs *multierror.Error
	visited := map[string]bool{}
	if err := parseSchedInto(fsys, path, s, visited, &errs); err != nil {
		return nil, err
	}
	return s, errs.ErrorOrNil()
}

func parseSchedInto(fsys fs.FS, path string, s *Sched, visited map[string]bool, errs **multierror.Error) error {
	if visited[path] {
		return fmt.Errorf("config: include cycle at %q", path)
	}
	visited[path] = true

	f, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#include") {
			inc, ok := parseIncludeDirective(line)
			if !ok {
				*errs = multierror.Append(*errs, fmt.Errorf("%s:%d: malformed #include", path, lineNo))
				continue
			}
			if err := parseSchedInto(fsys, inc, s, visited, errs); err != nil {
				*errs = multierror.Append(*errs, fmt.Errorf("%s:%d: %w", path, lineNo, err))
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := splitKeyValue(line)
		if !ok {
			*errs = multierror.Append(*errs, fmt.Errorf("%s:%d: malformed line %q", path, lineNo, line))
			continue
		}
		s.Raw[key] = val
		applySchedKey(s, key, val, errs, path, lineNo)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: reading %q: %w", path, err)
	}
	return nil
}

func parseIncludeDirective(line string) (string, bool) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "#include"))
	rest = strings.Trim(rest, `"`)
	if rest == "" {
		return "", false
	}
	return rest, true
}

func splitKeyValue(line string) (key, val string, ok bool) {
	i := strings.Index(line, ":")
	if i < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:i])
	val = strings.TrimSpace(line[i+1:])
	val = strings.Trim(val, `"`)
	return key, val, key != ""
}

func applySchedKey(s *Sched, key, val string, errs **multierror.Error, path string, lineNo int) {
	switch key {
	case "round_robin":
		s.RoundRobin = parseBool(val)
	case "by_queue":
		s.ByQueue = parseBool(val)
	case "strict_ordering":
		s.StrictOrdering = parseBool(val)
	case "backfill":
		s.Backfill = parseBool(val)
	case "backfill_depth":
		n, err := strconv.Atoi(val)
		if err != nil {
			*errs = multierror.Append(*errs, fmt.Errorf("%s:%d: backfill_depth: %w", path, lineNo, err))
			return
		}
		s.BackfillDepth = n
	case "job_sort_formula":
		s.JobSortFormula = val
	case "job_sort_formula_threshold":
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			*errs = multierror.Append(*errs, fmt.Errorf("%s:%d: job_sort_formula_threshold: %w", path, lineNo, err))
			return
		}
		s.FormulaThreshold = n
	case "job_sort_key":
		s.SortKeys = append(s.SortKeys, parseSortKey(val))
	case "smp_cluster_dist":
		s.SmpClusterDist = val
	case "dedicated_prefix", "dedicated_time":
		s.DedicatedTimeFile = val
	case "preempt_order":
		s.PreemptOrder = val
	case "preempt_prio":
		s.PreemptPrio = splitCSV(val)
	case "preempt_queue_prio":
		n, err := strconv.Atoi(val)
		if err != nil {
			*errs = multierror.Append(*errs, fmt.Errorf("%s:%d: preempt_queue_prio: %w", path, lineNo, err))
			return
		}
		s.PreemptQueuePrio = n
	case "resources":
		s.ResourcesToCheck = splitCSV(val)
	}
}

func parseSortKey(val string) SortKey {
	fields := strings.Fields(val)
	k := SortKey{Ascending: true}
	if len(fields) > 0 {
		k.Resource = fields[0]
	}
	if len(fields) > 1 && strings.EqualFold(fields[1], "HIGH") {
		k.Ascending = false
	}
	return k
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
