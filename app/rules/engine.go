package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"smartmeet/app/logger"
)

// RuleResult 单条规则的评估结果
type RuleResult struct {
	RuleID    string `json:"rule_id"`
	Priority  int    `json:"priority"`
	Triggered bool   `json:"triggered"`
	Skipped   bool   `json:"skipped,omitempty"` // 被更高优先级的 STOP 规则短路
	Action    Action `json:"action,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report 一次完整评估的输出。相同规则集与上下文的评估结果是确定的。
type Report struct {
	Results   []RuleResult `json:"results"`
	Total     int          `json:"total"`
	Triggered int          `json:"triggered"`
	Elapsed   int64        `json:"elapsed_us"`
}

// Engine 声明式规则评估器，用于治理决策(优先级、标签、套餐限制)。
// 引擎只报告命中的动作，不直接修改外部状态。
type Engine struct {
	log *logger.Logger
}

// NewEngine 创建规则引擎
func NewEngine(log *logger.Logger) *Engine {
	return &Engine{log: log}
}

// Execute 按优先级从高到低评估规则集。
// 命中且 conflictStrategy=STOP 的规则会短路后续规则；
// 单条规则评估出错时记录 triggered=false 并继续，不影响其它规则。
func (e *Engine) Execute(ruleList []Rule, context map[string]interface{}) Report {
	start := time.Now()

	// 复制后排序，保持传入的规则集不被修改；
	// 同优先级按 ID 排序，保证评估顺序确定
	sorted := make([]Rule, len(ruleList))
	copy(sorted, ruleList)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Metadata.Priority != sorted[j].Metadata.Priority {
			return sorted[i].Metadata.Priority > sorted[j].Metadata.Priority
		}
		return sorted[i].Metadata.ID < sorted[j].Metadata.ID
	})

	report := Report{Results: make([]RuleResult, 0, len(sorted))}
	stopped := false

	for _, rule := range sorted {
		result := RuleResult{
			RuleID:   rule.Metadata.ID,
			Priority: rule.Metadata.Priority,
		}

		if rule.Metadata.Status != RuleStatusActive {
			report.Results = append(report.Results, result)
			continue
		}
		if stopped {
			result.Skipped = true
			report.Results = append(report.Results, result)
			continue
		}

		triggered, err := e.evaluate(rule.Conditions, context)
		if err != nil {
			result.Error = err.Error()
			e.log.Warnf("规则评估出错: 规则=%s, 错误: %v", rule.Metadata.ID, err)
			report.Results = append(report.Results, result)
			continue
		}

		if triggered {
			result.Triggered = true
			result.Action = rule.Action
			report.Triggered++
			if rule.ConflictStrategy == ConflictStop {
				stopped = true
			}
		}
		report.Results = append(report.Results, result)
	}

	report.Total = len(sorted)
	report.Elapsed = time.Since(start).Microseconds()
	return report
}

// evaluate 评估一条规则的条件组合：all 全部满足且 any 至少满足一个
func (e *Engine) evaluate(cs ConditionSet, context map[string]interface{}) (bool, error) {
	for _, cond := range cs.All {
		ok, err := e.match(cond, context)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if len(cs.Any) > 0 {
		anyMatched := false
		for _, cond := range cs.Any {
			ok, err := e.match(cond, context)
			if err != nil {
				return false, err
			}
			if ok {
				anyMatched = true
				break
			}
		}
		if !anyMatched {
			return false, nil
		}
	}

	return true, nil
}

// match 评估单个条件
func (e *Engine) match(cond Condition, context map[string]interface{}) (bool, error) {
	value, exists := resolvePath(context, cond.Field)

	switch cond.Operator {
	case "exists":
		return exists, nil
	case "eq":
		return exists && equals(value, cond.Value), nil
	case "neq":
		return !exists || !equals(value, cond.Value), nil
	case "gt", "gte", "lt", "lte":
		if !exists {
			return false, nil
		}
		a, okA := toFloat(value)
		b, okB := toFloat(cond.Value)
		if !okA || !okB {
			return false, fmt.Errorf("字段 %s 无法按数值比较", cond.Field)
		}
		switch cond.Operator {
		case "gt":
			return a > b, nil
		case "gte":
			return a >= b, nil
		case "lt":
			return a < b, nil
		default:
			return a <= b, nil
		}
	case "in", "notIn":
		list, ok := cond.Value.([]interface{})
		if !ok {
			return false, fmt.Errorf("操作符 %s 的比较值必须是数组", cond.Operator)
		}
		found := false
		for _, item := range list {
			if exists && equals(value, item) {
				found = true
				break
			}
		}
		if cond.Operator == "in" {
			return found, nil
		}
		return !found, nil
	case "contains":
		s, okS := value.(string)
		sub, okSub := cond.Value.(string)
		if !okS || !okSub {
			return false, nil
		}
		return strings.Contains(s, sub), nil
	case "regex":
		pattern, okP := cond.Value.(string)
		if !okP {
			return false, fmt.Errorf("regex 操作符的比较值必须是字符串")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("正则表达式无效: %w", err)
		}
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		return re.MatchString(s), nil
	default:
		return false, fmt.Errorf("未知操作符: %s", cond.Operator)
	}
}

// resolvePath 按点路径从上下文取值，如 "user.plan"
func resolvePath(context map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = context

	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// equals 跨数值类型的相等比较，其余类型用字符串表示比较
func equals(a, b interface{}) bool {
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// toFloat 尝试把任意数值类型转成 float64
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}
