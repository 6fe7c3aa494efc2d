package limit

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseGrammar parses the newer `[u:name=N,g:name=N,p:name=N,o:PBS_ALL=N]`
// limit grammar (spec §4.D, grounded on OpenPBS limits_if.h) into Rules.
// kind, hard, scope, queueName and resName carry the context the caller
// already knows from which server/queue attribute this text came from (e.g.
// "max_run_res.ncpus" vs "max_run_soft").
func ParseGrammar(text string, kind RuleKind, hard bool, scope Scope, queueName, resName string) ([]Rule, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "[")
	text = strings.TrimSuffix(text, "]")
	if text == "" {
		return nil, nil
	}
	var rules []Rule
	for _, clause := range strings.Split(text, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		parts := strings.SplitN(clause, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("limit: malformed clause %q", clause)
		}
		entityKind, err := entityFromPrefix(parts[0])
		if err != nil {
			return nil, err
		}
		nameVal := strings.SplitN(parts[1], "=", 2)
		if len(nameVal) != 2 {
			return nil, fmt.Errorf("limit: malformed clause %q", clause)
		}
		name, valStr := nameVal[0], nameVal[1]
		val, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			return nil, fmt.Errorf("limit: invalid threshold in clause %q: %w", clause, err)
		}
		if name == "PBS_ALL" || name == "PBS_GENERIC" {
			entityKind = EntityAll
			name = ""
		}
		rules = append(rules, Rule{
			Kind:       kind,
			Entity:     entityKind,
			EntityName: name,
			Scope:      scope,
			QueueName:  queueName,
			Hard:       hard,
			ResName:    resName,
			Threshold:  val,
		})
	}
	return rules, nil
}

func entityFromPrefix(p string) (EntityKind, error) {
	switch p {
	case "u":
		return EntityUser, nil
	case "g":
		return EntityGroup, nil
	case "p":
		return EntityProject, nil
	case "o":
		return EntityAll, nil
	default:
		return 0, fmt.Errorf("limit: unknown entity prefix %q", p)
	}
}
