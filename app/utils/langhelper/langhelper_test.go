package langhelper

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"空值回落默认语言", "", "zh-CN"},
		{"垃圾值回落默认语言", "not a language", "zh-CN"},
		{"标准标签保持不变", "en-US", "en-US"},
		{"大小写规范化", "ZH-cn", "zh-CN"},
		{"仅语言代码", "ja", "ja"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, 期望 %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	if !Matches("zh", "zh-CN") {
		t.Error("zh 与 zh-CN 应匹配同一基础语言")
	}
	if Matches("zh-CN", "en-US") {
		t.Error("zh-CN 与 en-US 不应匹配")
	}
	if Matches("invalid", "zh") {
		t.Error("无效标签不应匹配任何语言")
	}
}
