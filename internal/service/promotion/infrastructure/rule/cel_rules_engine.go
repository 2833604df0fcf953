// internal/service/promotion/infrastructure/rule/cel_rules_engine.go
package rule

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"flashmart/internal/service/promotion/domain"
)

// CELRuleEngineAdapter 是 domain.RuleEngine 的 CEL 实现。
// 券的适用规则是形如 "subtotal >= 10000 && item_count <= 5" 的表达式，
// 对订单事实求值得到布尔结果。编译结果按表达式缓存。
type CELRuleEngineAdapter struct {
	env  *cel.Env
	lock sync.RWMutex
	prgs map[string]cel.Program
}

func NewCELRuleEngineAdapter() (*CELRuleEngineAdapter, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.IntType),
		cel.Variable("subtotal", cel.IntType),
		cel.Variable("item_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cel env: %w", err)
	}
	return &CELRuleEngineAdapter{env: env, prgs: make(map[string]cel.Program)}, nil
}

func (a *CELRuleEngineAdapter) program(rule string) (cel.Program, error) {
	a.lock.RLock()
	prg, ok := a.prgs[rule]
	a.lock.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := a.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule compile error: %w", issues.Err())
	}
	prg, err := a.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rule program error: %w", err)
	}

	a.lock.Lock()
	a.prgs[rule] = prg
	a.lock.Unlock()
	return prg, nil
}

// Evaluate 实现 domain.RuleEngine。
func (a *CELRuleEngineAdapter) Evaluate(rule string, fact domain.Fact) (bool, error) {
	prg, err := a.program(rule)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"user_id":    fact.UserID,
		"subtotal":   fact.Subtotal,
		"item_count": int64(fact.ItemCount),
	})
	if err != nil {
		return false, fmt.Errorf("rule eval error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule did not evaluate to bool: %T", out.Value())
	}
	return result, nil
}

var _ domain.RuleEngine = (*CELRuleEngineAdapter)(nil)
