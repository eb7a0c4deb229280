// Package jsonx JSON 编解码，统一使用 sonic。
package jsonx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// looseAPI 解码到 any 时数字保留为 json.Number，避免长整型时间戳丢精度
var looseAPI = sonic.Config{
	UseNumber:        true,
	EscapeHTML:       false,
	CompactMarshaler: true,
}.Froze()

// Marshal 将对象序列化为JSON字节数组
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// MarshalString 将对象序列化为JSON字符串
func MarshalString(v any) (string, error) {
	return sonic.MarshalString(v)
}

// Unmarshal 将JSON字节数组解析到指定对象
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// DecodeLoose 解析为通用结构，数字为 json.Number
func DecodeLoose(data []byte) (any, error) {
	var v any
	if err := looseAPI.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeList 解析 JSON 数组，空串视为空数组
func DecodeList(s string) ([]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var list []any
	if err := looseAPI.UnmarshalFromString(s, &list); err != nil {
		return nil, fmt.Errorf("not a json array: %w", err)
	}
	return list, nil
}

// DecodeStrings 解析字符串数组
func DecodeStrings(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var list []string
	if err := sonic.UnmarshalString(s, &list); err != nil {
		return nil, fmt.Errorf("not a json string array: %w", err)
	}
	return list, nil
}

// Normalize 经过一次序列化再反序列化，得到只含基础类型的结构
func Normalize(v any) (any, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	return DecodeLoose(data)
}

// Number 判断是否为 JSON 数字
func Number(v any) (json.Number, bool) {
	n, ok := v.(json.Number)
	return n, ok
}
