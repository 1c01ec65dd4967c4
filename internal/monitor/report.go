package monitor

import (
	"fmt"

	"updatemonitor/internal/diff"
	"updatemonitor/internal/markdown"
	"updatemonitor/pkg/models"
)

// PairReader 读取最新的两个快照
type PairReader interface {
	LatestPair(chain, project string) (previous, latest *models.Snapshot, err error)
}

// LatestReport 比较项目最新的两个快照，只有一个快照时变更为空
func LatestReport(store PairReader, chain, project string, opts *diff.Options) (*models.DiffReport, error) {
	previous, latest, err := store.LatestPair(chain, project)
	if err != nil {
		return nil, err
	}

	report := &models.DiffReport{
		Chain:             chain,
		Project:           project,
		CurrentSnapshotID: latest.ID,
		CurrentBlock:      latest.BlockNumber,
		DetectedAt:        latest.Timestamp,
		Diffs:             []models.ContractDiff{},
	}
	if previous == nil {
		return report, nil
	}

	report.PreviousSnapshotID = previous.ID
	report.PreviousBlock = previous.BlockNumber
	if diffs := diff.ComputeDiff(previous.Contracts, latest.Contracts, opts); len(diffs) > 0 {
		report.Diffs = diffs
	}
	return report, nil
}

// RenderReport 渲染报告Markdown，开头是项目标题行，剩余预算留给变更内容。没有变更时为空
func RenderReport(report *models.DiffReport, meta *models.DiscoveryMeta, maxLength int) string {
	if len(report.Diffs) == 0 {
		return ""
	}
	header := fmt.Sprintf("%s | %s | block %d\n\n", report.Project, report.Chain, report.CurrentBlock)
	if len(header) >= maxLength {
		return markdown.DiscoveryDiffToMarkdown(report.Diffs, meta, maxLength)
	}
	return header + markdown.DiscoveryDiffToMarkdown(report.Diffs, meta, maxLength-len(header))
}
