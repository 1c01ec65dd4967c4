// Package markdown 将合约变更渲染为带长度上限的Markdown消息
//
// 三个层级（字段、合约、整份报告）都保证输出长度不超过 maxLength（按字节计）。
// 不限制长度时传入 NoLimit。
package markdown

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"updatemonitor/pkg/models"
)

// NoLimit 不限制输出长度
const NoLimit = math.MaxInt

const (
	// OverflowSuffix 超长截断后追加的标记
	OverflowSuffix = "... (message too long)"

	fenceOpen      = "```diff\n"
	fenceClose     = "\n```"
	fenceOverhead  = len(fenceOpen) + len(fenceClose)
	blockSeparator = "\n\n"

	unknownKey = "unknown"
	noneText   = "None"
)

// FieldDiffToMarkdown 渲染单个字段变更
func FieldDiffToMarkdown(diff models.FieldDiff, meta *models.ValueMeta, maxLength int) string {
	lines := make([]string, 0, 6)

	if meta != nil {
		if description, ok := meta.Description.Value(); ok {
			lines = append(lines, "+++ description: "+description)
		}
		lines = append(lines, "+++ type: "+meta.Type)
		lines = append(lines, "+++ severity: "+meta.Severity)
	}

	lines = append(lines, fmt.Sprintf("      %s:", diff.Key.ValueOr(unknownKey)))
	if before, ok := diff.Before.Value(); ok {
		lines = append(lines, "-        "+before)
	}
	if after, ok := diff.After.Value(); ok {
		lines = append(lines, "+        "+after)
	}

	return truncate(strings.Join(lines, "\n"), maxLength)
}

// ContractDiffToMarkdown 渲染单个合约的变更，整体包在 ```diff 代码块中
//
// 完整渲染超出上限时不逐字段裁剪，而是把整个正文截断到剩余长度。
// 连截断标记都放不下时返回空字符串。
func ContractDiffToMarkdown(diff models.ContractDiff, meta *models.ContractMeta, maxLength int) string {
	body := contractBody(diff, meta)
	if len(body)+fenceOverhead <= maxLength {
		return wrapFence(body)
	}

	truncated := truncate(body, maxLength-fenceOverhead)
	if truncated == "" {
		return ""
	}
	return wrapFence(truncated)
}

// DiscoveryDiffToMarkdown 渲染整份变更报告，合约之间以空行分隔
//
// 按顺序尽量放入完整的合约块；第一个放不下的合约按剩余长度截断后作为最后一块，
// 其后的合约全部省略。分隔符所需长度预先从上限中扣除。
func DiscoveryDiffToMarkdown(diffs []models.ContractDiff, meta *models.DiscoveryMeta, maxLength int) string {
	if len(diffs) == 0 {
		return ""
	}

	remaining := maxLength - (len(diffs)-1)*len(blockSeparator)
	blocks := make([]string, 0, len(diffs))

	for _, d := range diffs {
		contractMeta := meta.Contract(d.Name)
		block := ContractDiffToMarkdown(d, contractMeta, NoLimit)
		if len(block) > remaining {
			if truncated := ContractDiffToMarkdown(d, contractMeta, remaining); truncated != "" {
				blocks = append(blocks, truncated)
			}
			break
		}
		blocks = append(blocks, block)
		remaining -= len(block)
	}

	return strings.Join(blocks, blockSeparator)
}

func contractBody(diff models.ContractDiff, meta *models.ContractMeta) string {
	description := noneText
	if meta != nil {
		description = meta.Description.ValueOr(noneText)
	}
	descriptionLine := "    +++ description: " + description
	contractLine := fmt.Sprintf("    contract %s (%s)", diff.Name, diff.Address.Hex())

	switch diff.Type {
	case models.ContractCreated:
		return strings.Join([]string{"+   Status: CREATED", contractLine, descriptionLine}, "\n")
	case models.ContractDeleted:
		return strings.Join([]string{"-   Status: DELETED", contractLine, descriptionLine}, "\n")
	}

	lines := make([]string, 0, len(diff.Diff)+3)
	lines = append(lines, contractLine+" {", descriptionLine)
	for _, field := range diff.Diff {
		lines = append(lines, FieldDiffToMarkdown(field, meta.Value(valueName(field.Key)), NoLimit))
	}
	lines = append(lines, "    }")
	return strings.Join(lines, "\n")
}

// valueName 从字段路径中取出字段名：values.baz.0 -> baz
func valueName(key models.OptionalString) string {
	path, ok := key.Value()
	if !ok {
		return ""
	}
	parts := strings.SplitN(path, ".", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func wrapFence(body string) string {
	return fenceOpen + body + fenceClose
}

// truncate 超出上限时保留前缀并追加截断标记，结果长度不超过 maxLength，不会切开UTF-8字符
func truncate(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	keep := maxLength - len(OverflowSuffix)
	if keep < 0 {
		return ""
	}
	for keep > 0 && !utf8.RuneStart(s[keep]) {
		keep--
	}
	return s[:keep] + OverflowSuffix
}
