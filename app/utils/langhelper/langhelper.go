package langhelper

import (
	"golang.org/x/text/language"
)

// DefaultLanguage 用户未设置偏好时的默认语言
const DefaultLanguage = "zh-CN"

// Normalize 把用户填写的语言偏好规范化为 BCP47 标签。
// 无法识别的输入回落到默认语言，避免把垃圾值传给 AI 服务商。
func Normalize(preferred string) string {
	if preferred == "" {
		return DefaultLanguage
	}

	tag, err := language.Parse(preferred)
	if err != nil {
		return DefaultLanguage
	}
	return tag.String()
}

// Matches 判断两个语言标签是否指向同一基础语言，如 zh 与 zh-CN
func Matches(a, b string) bool {
	ta, errA := language.Parse(a)
	tb, errB := language.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	baseA, _ := ta.Base()
	baseB, _ := tb.Base()
	return baseA == baseB
}
