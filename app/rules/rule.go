package rules

import (
	"encoding/json"
	"fmt"
	"os"
)

// 冲突策略：高优先级规则命中后是否继续评估后续规则
const (
	ConflictStop     = "STOP"
	ConflictContinue = "CONTINUE"
)

// 规则状态
const (
	RuleStatusActive   = "active"
	RuleStatusDisabled = "disabled"
)

// 动作类型
const (
	ActionSetPriority = "set_priority" // 设置处理优先级
	ActionAddTag      = "add_tag"      // 添加标签
	ActionDeny        = "deny"         // 拒绝处理(套餐限制)
)

// Metadata 规则元信息
type Metadata struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Status   string `json:"status"`
	Priority int    `json:"priority"`
}

// Condition 单个条件：字段(点路径)/操作符/比较值
type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// ConditionSet 条件组合。JSON 中既可以是扁平数组(隐含全部满足)，
// 也可以是 {"all": [...], "any": [...]} 组合器。
type ConditionSet struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
}

// UnmarshalJSON 同时接受数组与组合器两种写法
func (cs *ConditionSet) UnmarshalJSON(data []byte) error {
	var flat []Condition
	if err := json.Unmarshal(data, &flat); err == nil {
		cs.All = flat
		cs.Any = nil
		return nil
	}

	type alias ConditionSet
	var combined alias
	if err := json.Unmarshal(data, &combined); err != nil {
		return fmt.Errorf("条件格式无效: %w", err)
	}
	*cs = ConditionSet(combined)
	return nil
}

// Action 规则命中后要执行的动作。引擎只记录意图，由调用方派发。
type Action struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Rule 一条治理规则，加载后不可变，评估过程不会修改规则
type Rule struct {
	Metadata         Metadata     `json:"metadata"`
	Conditions       ConditionSet `json:"conditions"`
	Action           Action       `json:"action"`
	ConflictStrategy string       `json:"conflictStrategy,omitempty"`
}

// LoadFromFile 从 JSON 文件加载规则集，进程启动时调用一次
func LoadFromFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取规则文件失败: %w", err)
	}

	var ruleList []Rule
	if err := json.Unmarshal(data, &ruleList); err != nil {
		return nil, fmt.Errorf("解析规则文件失败: %w", err)
	}
	return ruleList, nil
}
