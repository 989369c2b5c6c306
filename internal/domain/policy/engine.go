package policy

import "github.com/Sentinel-Gate/tenantguard/internal/domain/value"

// Evaluator decides whether an actor may perform an action.
// Implementations are pure: no I/O, no errors, bounded by the rule count.
type Evaluator interface {
	Evaluate(actorID, action string, pc Context, resource value.Value) Decision
}

// Engine is the default-deny, explicit-deny-wins evaluator.
// The zero value is ready to use.
type Engine struct{}

// NewEngine returns an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate makes one pass over pc.Rules in list order, collecting every
// matching rule. Any matching DENY wins regardless of position; otherwise
// any matching ALLOW allows; otherwise the action is denied by default.
func (e *Engine) Evaluate(actorID, action string, pc Context, resource value.Value) Decision {
	root := value.Object(map[string]value.Value{
		"actorId":  value.String(actorID),
		"resource": resource,
	})

	var (
		matched []Rule
		denyID  string
		allowID string
		denied  bool
		allowed bool
	)
	for _, rule := range pc.Rules {
		if !ruleMatches(rule, action, root) {
			continue
		}
		matched = append(matched, rule)
		switch rule.Effect {
		case EffectDeny:
			if !denied {
				denyID = rule.ID
			}
			denied = true
		case EffectAllow:
			if !allowed {
				allowID = rule.ID
			}
			allowed = true
		}
	}

	switch {
	case denied:
		return Decision{MatchedRules: matched, Reason: ReasonExplicitDeny, PolicyID: denyID}
	case allowed:
		return Decision{Allowed: true, MatchedRules: matched, PolicyID: allowID}
	default:
		return Decision{MatchedRules: matched, Reason: ReasonDefaultDeny}
	}
}

func ruleMatches(rule Rule, action string, root value.Value) bool {
	if rule.Action != WildcardAction && rule.Action != action {
		return false
	}
	if rule.Condition == "" {
		return true
	}
	cond, ok := ParseCondition(rule.Condition)
	if !ok {
		return false
	}
	return cond.Evaluate(root) == Matched
}

var _ Evaluator = (*Engine)(nil)
