package rules

import (
	"encoding/json"
	"reflect"
	"testing"

	"smartmeet/app/config"
	"smartmeet/app/logger"
)

func newTestEngine() *Engine {
	return NewEngine(logger.New(config.LogConfig{Level: "error", Output: "stdout"}))
}

func activeRule(id string, priority int, strategy string, conds ...Condition) Rule {
	return Rule{
		Metadata:         Metadata{ID: id, Version: "1", Status: RuleStatusActive, Priority: priority},
		Conditions:       ConditionSet{All: conds},
		Action:           Action{Type: ActionAddTag, Params: map[string]interface{}{"tag": id}},
		ConflictStrategy: strategy,
	}
}

func TestPriorityOrderingWithStop(t *testing.T) {
	e := newTestEngine()

	// 两条规则条件都满足，高优先级规则 STOP 后低优先级规则不得命中
	high := activeRule("vip-priority", 100, ConflictStop,
		Condition{Field: "user.plan", Operator: "eq", Value: "pro"})
	low := activeRule("default-tag", 50, ConflictContinue,
		Condition{Field: "user.plan", Operator: "exists"})

	report := e.Execute([]Rule{low, high}, map[string]interface{}{
		"user": map[string]interface{}{"plan": "pro"},
	})

	if report.Triggered != 1 {
		t.Fatalf("应只有 1 条规则命中，实际 %d", report.Triggered)
	}
	if !report.Results[0].Triggered || report.Results[0].RuleID != "vip-priority" {
		t.Errorf("高优先级规则应排在前面且命中: %+v", report.Results[0])
	}
	if report.Results[1].Triggered {
		t.Error("被 STOP 短路的低优先级规则不应命中")
	}
	if !report.Results[1].Skipped {
		t.Error("被短路的规则应标记为 Skipped")
	}
}

func TestOperators(t *testing.T) {
	e := newTestEngine()
	context := map[string]interface{}{
		"meeting": map[string]interface{}{
			"content_type": "audio",
			"duration_min": 90,
			"title":        "Q3 планирование roadmap",
		},
		"user": map[string]interface{}{"plan": "free"},
	}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq 命中", Condition{Field: "user.plan", Operator: "eq", Value: "free"}, true},
		{"neq 命中", Condition{Field: "user.plan", Operator: "neq", Value: "pro"}, true},
		{"gt 数值比较", Condition{Field: "meeting.duration_min", Operator: "gt", Value: 60.0}, true},
		{"lte 数值比较", Condition{Field: "meeting.duration_min", Operator: "lte", Value: 89.0}, false},
		{"in 集合成员", Condition{Field: "meeting.content_type", Operator: "in", Value: []interface{}{"audio", "video"}}, true},
		{"notIn 集合成员", Condition{Field: "user.plan", Operator: "notIn", Value: []interface{}{"pro", "team"}}, true},
		{"contains 子串", Condition{Field: "meeting.title", Operator: "contains", Value: "roadmap"}, true},
		{"exists 存在", Condition{Field: "meeting.duration_min", Operator: "exists"}, true},
		{"exists 不存在", Condition{Field: "meeting.owner", Operator: "exists"}, false},
		{"regex 匹配", Condition{Field: "meeting.title", Operator: "regex", Value: `^Q[1-4]\s`}, true},
		{"嵌套路径缺失", Condition{Field: "user.profile.name", Operator: "eq", Value: "x"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := activeRule("r", 10, ConflictContinue, tc.cond)
			report := e.Execute([]Rule{rule}, context)
			if report.Results[0].Triggered != tc.want {
				t.Errorf("条件 %+v: 期望 %v，实际 %v", tc.cond, tc.want, report.Results[0].Triggered)
			}
		})
	}
}

func TestRuleErrorIsolation(t *testing.T) {
	e := newTestEngine()

	bad := activeRule("bad-regex", 100, ConflictContinue,
		Condition{Field: "title", Operator: "regex", Value: "[invalid"})
	good := activeRule("good", 50, ConflictContinue,
		Condition{Field: "title", Operator: "exists"})

	report := e.Execute([]Rule{bad, good}, map[string]interface{}{"title": "周会"})

	if report.Results[0].Triggered {
		t.Error("评估出错的规则应记录 triggered=false")
	}
	if report.Results[0].Error == "" {
		t.Error("评估出错的规则应带错误信息")
	}
	if !report.Results[1].Triggered {
		t.Error("其余规则应继续评估并命中")
	}
}

func TestAnyCombinator(t *testing.T) {
	e := newTestEngine()

	rule := Rule{
		Metadata: Metadata{ID: "long-or-video", Status: RuleStatusActive, Priority: 10},
		Conditions: ConditionSet{
			Any: []Condition{
				{Field: "meeting.duration_min", Operator: "gt", Value: 120.0},
				{Field: "meeting.content_type", Operator: "eq", Value: "video"},
			},
		},
		Action: Action{Type: ActionSetPriority, Params: map[string]interface{}{"value": 10.0}},
	}

	ctx := map[string]interface{}{
		"meeting": map[string]interface{}{"duration_min": 30, "content_type": "video"},
	}
	if report := e.Execute([]Rule{rule}, ctx); !report.Results[0].Triggered {
		t.Error("any 组合只需满足一个条件")
	}

	ctx["meeting"].(map[string]interface{})["content_type"] = "audio"
	if report := e.Execute([]Rule{rule}, ctx); report.Results[0].Triggered {
		t.Error("any 条件都不满足时不应命中")
	}
}

func TestConditionSetJSONForms(t *testing.T) {
	// 扁平数组写法隐含全部满足
	var flat ConditionSet
	if err := json.Unmarshal([]byte(`[{"field":"a","operator":"exists"}]`), &flat); err != nil {
		t.Fatalf("解析扁平数组失败: %v", err)
	}
	if len(flat.All) != 1 || flat.All[0].Field != "a" {
		t.Errorf("扁平数组应落入 All: %+v", flat)
	}

	// 组合器写法
	var combined ConditionSet
	if err := json.Unmarshal([]byte(`{"all":[{"field":"a","operator":"exists"}],"any":[{"field":"b","operator":"exists"}]}`), &combined); err != nil {
		t.Fatalf("解析组合器失败: %v", err)
	}
	if len(combined.All) != 1 || len(combined.Any) != 1 {
		t.Errorf("组合器解析结果不完整: %+v", combined)
	}
}

func TestDeterminism(t *testing.T) {
	e := newTestEngine()
	ruleList := []Rule{
		activeRule("b", 10, ConflictContinue, Condition{Field: "x", Operator: "exists"}),
		activeRule("a", 10, ConflictContinue, Condition{Field: "x", Operator: "exists"}),
	}
	ctx := map[string]interface{}{"x": 1}

	first := e.Execute(ruleList, ctx)
	second := e.Execute(ruleList, ctx)

	first.Elapsed, second.Elapsed = 0, 0
	if !reflect.DeepEqual(first, second) {
		t.Error("相同规则集与上下文的两次评估结果应完全一致")
	}
	// 同优先级按 ID 排序
	if first.Results[0].RuleID != "a" {
		t.Errorf("同优先级应按 ID 排序，实际首位: %s", first.Results[0].RuleID)
	}
}
