// internal/service/promotion/domain/rule.go
package domain

// Fact 是规则求值时可见的订单事实。
type Fact struct {
	UserID    int64
	Subtotal  int64
	ItemCount int
}

// RuleEngine 定义了优惠券适用规则的求值接口。
// 领域层只依赖这个接口，具体表达式语言由基础设施层适配。
type RuleEngine interface {
	Evaluate(rule string, fact Fact) (bool, error)
}
