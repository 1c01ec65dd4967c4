package models

import (
	"bytes"
	"encoding/json"
)

// presence 可选值的三种状态
type presence uint8

const (
	// 字段不存在
	absent presence = iota
	// 显式为null
	null
	// 有值
	present
)

// OptionalString 三态字符串：不存在 / null / 有值
//
// 零值表示不存在。JSON中缺失的字段保持零值，null 解码为 Null()，
// 其余任意JSON值解码为有值（非字符串保留其紧凑JSON文本）。
type OptionalString struct {
	state presence
	value string
}

// Some 构造有值的OptionalString
func Some(value string) OptionalString {
	return OptionalString{state: present, value: value}
}

// Null 构造显式null的OptionalString
func Null() OptionalString {
	return OptionalString{state: null}
}

// IsAbsent 字段是否不存在
func (o OptionalString) IsAbsent() bool {
	return o.state == absent
}

// IsNull 是否显式为null
func (o OptionalString) IsNull() bool {
	return o.state == null
}

// IsPresent 是否有值（空字符串也算有值）
func (o OptionalString) IsPresent() bool {
	return o.state == present
}

// Value 返回值以及是否有值
func (o OptionalString) Value() (string, bool) {
	return o.value, o.state == present
}

// ValueOr 有值时返回值，否则返回默认值
func (o OptionalString) ValueOr(def string) string {
	if o.state == present {
		return o.value
	}
	return def
}

// IsZero 供 omitzero 使用，不存在时省略字段
func (o OptionalString) IsZero() bool {
	return o.state == absent
}

// String 调试输出
func (o OptionalString) String() string {
	switch o.state {
	case null:
		return "null"
	case present:
		return o.value
	default:
		return "<absent>"
	}
}

// MarshalJSON 实现json.Marshaler
func (o OptionalString) MarshalJSON() ([]byte, error) {
	if o.state != present {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON 实现json.Unmarshaler
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*o = Null()
		return nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		*o = Some(s)
		return nil
	}

	// 非字符串值按紧凑JSON文本保存
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return err
	}
	*o = Some(buf.String())
	return nil
}
