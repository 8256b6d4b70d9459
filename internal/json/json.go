// Package json 统一项目内的 JSON 编解码入口，底层使用 bytedance/sonic。
// 行为与 encoding/json 保持兼容（键按字段顺序、转义 HTML）。
package json

import (
	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// Marshal 与 encoding/json.Marshal 行为一致。
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// MarshalIndent 与 encoding/json.MarshalIndent 行为一致。
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

// MarshalToString 返回编码后的字符串。
func MarshalToString(v any) (string, error) {
	return api.MarshalToString(v)
}

// Unmarshal 与 encoding/json.Unmarshal 行为一致。
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// UnmarshalFromString 从字符串解码。
func UnmarshalFromString(data string, v any) error {
	return api.UnmarshalFromString(data, v)
}
