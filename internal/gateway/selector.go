package gateway

import (
	"errors"
	"sort"

	"github.com/Knetic/govaluate"
)

// ErrNoEligibleInstance is returned when no enabled instance of the
// requested kind can serve the order.
var ErrNoEligibleInstance = errors.New("no eligible gateway instance")

// RuleParams are the order attributes a selection rule may reference,
// e.g. "amount >= 50000".
type RuleParams map[string]interface{}

// Select picks the instance that will settle an order: enabled instances
// of the requested kind whose selection rule (when present) evaluates to
// true, lowest Priority winning ties. A rule that fails to parse or
// evaluate excludes its instance rather than failing the selection.
func Select(instances []Instance, kind Kind, params RuleParams) (*Instance, error) {
	eligible := make([]Instance, 0, len(instances))
	for _, inst := range instances {
		if !inst.Enabled || inst.Kind != kind {
			continue
		}
		if inst.SelectionRule != "" && !ruleMatches(inst.SelectionRule, params) {
			continue
		}
		eligible = append(eligible, inst)
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleInstance
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Priority < eligible[j].Priority
	})
	chosen := eligible[0]
	return &chosen, nil
}

func ruleMatches(rule string, params RuleParams) bool {
	expr, err := govaluate.NewEvaluableExpression(rule)
	if err != nil {
		return false
	}
	result, err := expr.Evaluate(map[string]interface{}(params))
	if err != nil {
		return false
	}
	matched, ok := result.(bool)
	return ok && matched
}
