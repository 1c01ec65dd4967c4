package models

import "time"

// ContractDiffType 合约级变更类型
type ContractDiffType string

const (
	ContractCreated ContractDiffType = "created"
	ContractDeleted ContractDiffType = "deleted"
)

// FieldDiff 单个字段的变更
//
// Before 不存在表示新增字段，After 不存在表示字段被删除。
type FieldDiff struct {
	Key    OptionalString `json:"key,omitzero"`
	Before OptionalString `json:"before,omitzero"`
	After  OptionalString `json:"after,omitzero"`
}

// ContractDiff 单个合约的变更
//
// Type 为 created/deleted 时 Diff 为空；两者都为空的合约不会出现在结果中。
type ContractDiff struct {
	Name    string           `json:"name"`
	Address Address          `json:"address"`
	Type    ContractDiffType `json:"type,omitempty"`
	Diff    []FieldDiff      `json:"diff,omitempty"`
}

// IsCreated 是否为新建合约
func (d ContractDiff) IsCreated() bool {
	return d.Type == ContractCreated
}

// IsDeleted 是否为删除合约
func (d ContractDiff) IsDeleted() bool {
	return d.Type == ContractDeleted
}

// DiffReport 一次更新检测的结果，交给通知器发送
type DiffReport struct {
	Chain              string         `json:"chain"`
	Project            string         `json:"project"`
	PreviousSnapshotID uint64         `json:"previous_snapshot_id"`
	CurrentSnapshotID  uint64         `json:"current_snapshot_id"`
	PreviousBlock      uint64         `json:"previous_block"`
	CurrentBlock       uint64         `json:"current_block"`
	DetectedAt         time.Time      `json:"detected_at"`
	Diffs              []ContractDiff `json:"diffs"`
	Markdown           string         `json:"markdown"`
}

// Summary 统计新建、删除和修改的合约数量
func (r *DiffReport) Summary() (created, deleted, modified int) {
	for _, d := range r.Diffs {
		switch d.Type {
		case ContractCreated:
			created++
		case ContractDeleted:
			deleted++
		default:
			modified++
		}
	}
	return
}

// ToKafkaMessage 转换为Kafka消息格式
func (r *DiffReport) ToKafkaMessage() map[string]interface{} {
	created, deleted, modified := r.Summary()
	return map[string]interface{}{
		"type":                 "discovery_diff",
		"chain":                r.Chain,
		"project":              r.Project,
		"previous_snapshot_id": r.PreviousSnapshotID,
		"current_snapshot_id":  r.CurrentSnapshotID,
		"previous_block":       r.PreviousBlock,
		"current_block":        r.CurrentBlock,
		"detected_at":          r.DetectedAt.Unix(),
		"created":              created,
		"deleted":              deleted,
		"modified":             modified,
		"diffs":                r.Diffs,
		"message":              r.Markdown,
	}
}
