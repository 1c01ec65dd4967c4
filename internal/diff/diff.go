// Package diff 比较两份合约发现结果，生成按合约分类的字段级变更列表
package diff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"updatemonitor/pkg/models"
)

// Options 比较选项
type Options struct {
	// IgnoreInWatchMode 按合约地址忽略的字段名，values.<name> 及其子路径的变化不会上报
	IgnoreInWatchMode map[models.Address][]string
}

// ComputeDiff 比较前后两份合约列表
//
// 合约按地址匹配。仅存在于 current 的为 created，仅存在于 previous 的为 deleted，
// 两边都有且内容不同的输出字段级变更，相同的不输出。
// 输出顺序：先按 previous 顺序输出修改和删除，再按 current 顺序输出新建。
func ComputeDiff(previous, current []models.ContractParameters, opts *Options) []models.ContractDiff {
	currentByAddress := make(map[models.Address]models.ContractParameters, len(current))
	for _, c := range current {
		if _, exists := currentByAddress[c.Address]; !exists {
			currentByAddress[c.Address] = c
		}
	}

	seen := make(map[models.Address]struct{}, len(previous))
	var result []models.ContractDiff

	for _, prev := range previous {
		if _, dup := seen[prev.Address]; dup {
			continue
		}
		seen[prev.Address] = struct{}{}

		curr, ok := currentByAddress[prev.Address]
		if !ok {
			result = append(result, models.ContractDiff{
				Name:    prev.Name,
				Address: prev.Address,
				Type:    models.ContractDeleted,
			})
			continue
		}

		fields := diffContracts(prev, curr, opts.ignored(prev.Address))
		if len(fields) > 0 {
			result = append(result, models.ContractDiff{
				Name:    curr.Name,
				Address: curr.Address,
				Diff:    fields,
			})
		}
	}

	for _, curr := range current {
		if _, ok := seen[curr.Address]; ok {
			continue
		}
		seen[curr.Address] = struct{}{}
		result = append(result, models.ContractDiff{
			Name:    curr.Name,
			Address: curr.Address,
			Type:    models.ContractCreated,
		})
	}

	return result
}

func (o *Options) ignored(addr models.Address) []string {
	if o == nil {
		return nil
	}
	return o.IgnoreInWatchMode[addr]
}

// diffContracts 比较同一地址的两份合约记录
func diffContracts(prev, curr models.ContractParameters, ignore []string) []models.FieldDiff {
	var fields []models.FieldDiff
	walk("", normalize(prev), normalize(curr), &fields)

	if len(ignore) == 0 {
		return fields
	}
	kept := fields[:0]
	for _, f := range fields {
		if !isIgnored(f.Key.ValueOr(""), ignore) {
			kept = append(kept, f)
		}
	}
	return kept
}

func isIgnored(key string, ignore []string) bool {
	for _, name := range ignore {
		prefix := "values." + name
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// normalize 将合约记录转换为统一的JSON树，数字保留为json.Number
func normalize(c models.ContractParameters) any {
	data, err := json.Marshal(c)
	if err != nil {
		return map[string]any{
			"name":    c.Name,
			"address": c.Address.Hex(),
			"values":  fmt.Sprintf("%v", c.Values),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return string(data)
	}
	return tree
}

// walk 递归比较两棵JSON树，叶子变化按完整路径记录
func walk(path string, before, after any, out *[]models.FieldDiff) {
	switch b := before.(type) {
	case map[string]any:
		if a, ok := after.(map[string]any); ok {
			walkObject(path, b, a, out)
			return
		}
	case []any:
		if a, ok := after.([]any); ok {
			walkArray(path, b, a, out)
			return
		}
	}

	if reflect.DeepEqual(before, after) {
		return
	}
	*out = append(*out, models.FieldDiff{
		Key:    models.Some(path),
		Before: models.Some(stringify(before)),
		After:  models.Some(stringify(after)),
	})
}

func walkObject(path string, before, after map[string]any, out *[]models.FieldDiff) {
	keys := make([]string, 0, len(before)+len(after))
	for k := range before {
		keys = append(keys, k)
	}
	for k := range after {
		if _, ok := before[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		b, inBefore := before[k]
		a, inAfter := after[k]
		child := joinPath(path, k)
		switch {
		case inBefore && inAfter:
			walk(child, b, a, out)
		case inBefore:
			*out = append(*out, models.FieldDiff{Key: models.Some(child), Before: models.Some(stringify(b))})
		default:
			*out = append(*out, models.FieldDiff{Key: models.Some(child), After: models.Some(stringify(a))})
		}
	}
}

func walkArray(path string, before, after []any, out *[]models.FieldDiff) {
	n := max(len(before), len(after))
	for i := 0; i < n; i++ {
		child := joinPath(path, strconv.Itoa(i))
		switch {
		case i < len(before) && i < len(after):
			walk(child, before[i], after[i], out)
		case i < len(before):
			*out = append(*out, models.FieldDiff{Key: models.Some(child), Before: models.Some(stringify(before[i]))})
		default:
			*out = append(*out, models.FieldDiff{Key: models.Some(child), After: models.Some(stringify(after[i]))})
		}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// stringify 叶子值转字符串：字符串原样输出，其余使用紧凑JSON
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
