package monitor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"updatemonitor/internal/config"
	"updatemonitor/internal/diff"
	"updatemonitor/internal/discovery"
	"updatemonitor/internal/errors"
	"updatemonitor/internal/logging"
	"updatemonitor/internal/output"
	"updatemonitor/internal/validation"
	"updatemonitor/pkg/models"
)

// SnapshotStore 快照存储
type SnapshotStore interface {
	Save(snap *models.Snapshot) (uint64, error)
	Latest(chain, project string) (*models.Snapshot, error)
	NextID(chain, project string) (uint64, error)
}

// BlockSource 提供重组安全的区块号
type BlockSource interface {
	HasRPC(chain string) bool
	SafeBlockNumber(ctx context.Context, chain string) (uint64, error)
}

// MetaSource 提供项目的合约注释
type MetaSource interface {
	Get(chain, project string) *models.DiscoveryMeta
}

// Dependencies 更新检测依赖的组件，Blocks/Meta/Output 可以为空
type Dependencies struct {
	Source       discovery.Source
	Store        SnapshotStore
	Blocks       BlockSource
	Meta         MetaSource
	Output       output.Output
	ErrorHandler *errors.ErrorHandler
	Logger       *logging.StructuredLogger
}

// Job 一个待检测的项目
type Job struct {
	Chain   string
	Project string
}

func (j Job) String() string {
	return j.Chain + "/" + j.Project
}

// ProjectResult 单个项目的检测结果
type ProjectResult struct {
	Job
	SnapshotID  uint64             `json:"snapshot_id"`
	BlockNumber uint64             `json:"block_number"`
	FirstRun    bool               `json:"first_run"`
	Report      *models.DiffReport `json:"report,omitempty"`
	Duration    time.Duration      `json:"duration"`
	Err         error              `json:"-"`
}

// Changed 是否检测到变更
func (r *ProjectResult) Changed() bool {
	return r.Report != nil && len(r.Report.Diffs) > 0
}

// RunResult 一轮检测的结果
type RunResult struct {
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Projects  []*ProjectResult `json:"projects"`
}

// Failed 失败的项目数
func (r *RunResult) Failed() int {
	n := 0
	for _, p := range r.Projects {
		if p.Err != nil {
			n++
		}
	}
	return n
}

// Changed 有变更的项目数
func (r *RunResult) Changed() int {
	n := 0
	for _, p := range r.Projects {
		if p.Changed() {
			n++
		}
	}
	return n
}

// Monitor 更新检测器：读取发现结果，与上一次快照比较，发送变更报告并保存新快照
type Monitor struct {
	cfg       *config.Config
	deps      Dependencies
	validator *validation.Validator
	logger    *logrus.Logger

	workers   int
	timeout   time.Duration
	interval  time.Duration
	maxLength int
	overrides map[string]*diff.Options

	now func() time.Time

	mu      sync.RWMutex
	lastRun *RunResult
}

// NewMonitor 创建更新检测器
func NewMonitor(cfg *config.Config, deps Dependencies, logger *logrus.Logger) (*Monitor, error) {
	if cfg == nil || cfg.Monitor == nil {
		return nil, fmt.Errorf("检测配置为空")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("缺少发现结果来源")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("缺少快照存储")
	}

	interval, err := time.ParseDuration(cfg.Monitor.Interval)
	if err != nil {
		return nil, fmt.Errorf("无效的检测间隔: %w", err)
	}
	timeout, err := time.ParseDuration(cfg.Monitor.Timeout)
	if err != nil {
		return nil, fmt.Errorf("无效的检测超时: %w", err)
	}

	overrides, err := buildOverrides(cfg.Discovery)
	if err != nil {
		return nil, err
	}

	if deps.ErrorHandler == nil {
		deps.ErrorHandler = errors.NewErrorHandler(logger)
	}

	maxLength := config.DefaultMaxLength
	if cfg.Notifier != nil && cfg.Notifier.MaxLength > 0 {
		maxLength = cfg.Notifier.MaxLength
	}

	return &Monitor{
		cfg:       cfg,
		deps:      deps,
		validator: validation.NewValidator(logger, false),
		logger:    logger,
		workers:   max(cfg.Monitor.Workers, 1),
		timeout:   timeout,
		interval:  interval,
		maxLength: maxLength,
		overrides: overrides,
		now:       time.Now,
	}, nil
}

// buildOverrides 按项目汇总 ignore_in_watch_mode 配置
func buildOverrides(cfg *config.DiscoveryConfig) (map[string]*diff.Options, error) {
	overrides := make(map[string]*diff.Options)
	if cfg == nil {
		return overrides, nil
	}

	for _, o := range cfg.Overrides {
		addr, err := models.ParseAddress(o.Address)
		if err != nil {
			return nil, fmt.Errorf("覆盖项地址无效 %s: %w", o.Address, err)
		}
		opts, ok := overrides[o.Project]
		if !ok {
			opts = &diff.Options{IgnoreInWatchMode: make(map[models.Address][]string)}
			overrides[o.Project] = opts
		}
		opts.IgnoreInWatchMode[addr] = append(opts.IgnoreInWatchMode[addr], o.IgnoreInWatchMode...)
	}
	return overrides, nil
}

// DiffOptions 项目的比较选项，没有覆盖项时为nil
func (m *Monitor) DiffOptions(project string) *diff.Options {
	return m.overrides[project]
}

// Jobs 所有配置的链和项目
func (m *Monitor) Jobs() []Job {
	var jobs []Job
	for _, chain := range m.cfg.Chains {
		for _, project := range chain.Projects {
			jobs = append(jobs, Job{Chain: chain.Name, Project: project})
		}
	}
	return jobs
}

// ValidationStats 快照验证规则信息
func (m *Monitor) ValidationStats() map[string]interface{} {
	return m.validator.GetValidationStats()
}

// LastRun 最近一轮检测结果，尚未运行时为nil
func (m *Monitor) LastRun() *RunResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRun
}

// RunOnce 使用有限的worker并发检测所有项目，单个项目失败不影响其他项目
func (m *Monitor) RunOnce(ctx context.Context) (*RunResult, error) {
	jobs := m.Jobs()
	result := &RunResult{StartTime: m.now()}

	m.logger.Infof("开始更新检测: %d 个项目，使用 %d 个工作者", len(jobs), m.workers)

	taskChan := make(chan Job, m.workers*2)
	resultChan := make(chan *ProjectResult, m.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go m.worker(ctx, taskChan, resultChan, &wg)
	}

	go func() {
		defer close(taskChan)
		for _, job := range jobs {
			select {
			case taskChan <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for projectResult := range resultChan {
		result.Projects = append(result.Projects, projectResult)
	}

	result.EndTime = m.now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	m.mu.Lock()
	m.lastRun = result
	m.mu.Unlock()

	m.logger.Infof("更新检测完成: %d 个项目，%d 个有变更，%d 个失败，耗时 %v",
		len(result.Projects), result.Changed(), result.Failed(), result.Duration)
	m.logChainSummary(result)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// logChainSummary 按链输出本轮检测汇总
func (m *Monitor) logChainSummary(result *RunResult) {
	if m.deps.Logger == nil {
		return
	}
	type summary struct{ checked, changed, failed int }
	byChain := make(map[string]*summary)
	for _, p := range result.Projects {
		s, ok := byChain[p.Chain]
		if !ok {
			s = &summary{}
			byChain[p.Chain] = s
		}
		s.checked++
		if p.Changed() {
			s.changed++
		}
		if p.Err != nil {
			s.failed++
		}
	}
	for chain, s := range byChain {
		logging.NewChainLogger(m.deps.Logger, chain).Info("本轮检测汇总",
			"checked", s.checked, "changed", s.changed, "failed", s.failed)
	}
}

// worker 工作协程
func (m *Monitor) worker(ctx context.Context, taskChan <-chan Job, resultChan chan<- *ProjectResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range taskChan {
		if ctx.Err() != nil {
			return
		}

		projectResult := m.CheckProject(ctx, job.Chain, job.Project)
		if projectResult.Err != nil {
			m.deps.ErrorHandler.HandleError(ctx, projectResult.Err)
		} else {
			m.deps.ErrorHandler.Resolve(job.Chain, job.Project)
		}
		resultChan <- projectResult
	}
}

// Run 监视模式：立即检测一次，之后按间隔重复直到ctx结束
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Infof("进入监视模式，检测间隔 %v", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
			m.logger.Errorf("更新检测失败: %v", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			m.logger.Info("监视模式已停止")
			return ctx.Err()
		}
	}
}

// CheckProject 检测单个项目
func (m *Monitor) CheckProject(ctx context.Context, chain, project string) *ProjectResult {
	start := m.now()
	result := &ProjectResult{Job: Job{Chain: chain, Project: project}}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := m.checkProject(ctx, result); err != nil {
		result.Err = withJob(err, chain, project)
	}
	result.Duration = m.now().Sub(start)

	if m.deps.Logger != nil {
		l := logging.NewProjectLogger(m.deps.Logger, chain, project)
		switch {
		case result.Err != nil:
			l.Error("更新检测失败", "error", result.Err.Error())
		case result.Changed():
			created, deleted, modified := result.Report.Summary()
			l.Info("检测到合约变更", "snapshot_id", result.SnapshotID, "block", result.BlockNumber,
				"created", created, "deleted", deleted, "modified", modified)
		default:
			l.Debug("没有变更", "block", result.BlockNumber, "first_run", result.FirstRun)
		}
	}

	return result
}

func (m *Monitor) checkProject(ctx context.Context, result *ProjectResult) error {
	chain, project := result.Chain, result.Project

	discovered, err := m.deps.Source.Read(ctx, chain, project)
	if err != nil {
		return err
	}

	blockNumber := discovered.BlockNumber
	if m.deps.Blocks != nil && m.deps.Blocks.HasRPC(chain) {
		blockNumber, err = m.deps.Blocks.SafeBlockNumber(ctx, chain)
		if err != nil {
			return err
		}
	}
	result.BlockNumber = blockNumber

	current := discovered.ToSnapshot(chain, blockNumber, m.now())
	current.Project = project
	if err := m.validator.ValidateSnapshot(current).Err(); err != nil {
		return err
	}

	previous, err := m.deps.Store.Latest(chain, project)
	if err != nil {
		if !stderrors.Is(err, errors.ErrSnapshotNotFound) {
			return err
		}
		// 首次检测只保存基线快照
		id, err := m.deps.Store.Save(current)
		if err != nil {
			return err
		}
		result.SnapshotID = id
		result.FirstRun = true
		m.logger.Infof("%s/%s 已保存基线快照 %d (区块 %d)", chain, project, id, blockNumber)
		return nil
	}

	if current.BlockNumber < previous.BlockNumber {
		m.logger.Warnf("%s/%s 发现结果区块 %d 早于上次快照区块 %d，跳过", chain, project, current.BlockNumber, previous.BlockNumber)
		result.SnapshotID = previous.ID
		return nil
	}

	diffs := diff.ComputeDiff(previous.Contracts, current.Contracts, m.overrides[project])
	if len(diffs) == 0 {
		result.SnapshotID = previous.ID
		return nil
	}
	if err := m.validator.ValidateDiffs(diffs).Err(); err != nil {
		return err
	}

	nextID, err := m.deps.Store.NextID(chain, project)
	if err != nil {
		return err
	}

	report := &models.DiffReport{
		Chain:              chain,
		Project:            project,
		PreviousSnapshotID: previous.ID,
		CurrentSnapshotID:  nextID,
		PreviousBlock:      previous.BlockNumber,
		CurrentBlock:       current.BlockNumber,
		DetectedAt:         current.Timestamp,
		Diffs:              diffs,
	}
	result.Report = report

	// 发送失败时不保存快照，下一轮仍与旧快照比较并重新发送
	if err := m.publish(report); err != nil {
		result.SnapshotID = previous.ID
		return err
	}

	id, err := m.deps.Store.Save(current)
	if err != nil {
		return err
	}
	if id != nextID {
		m.logger.Warnf("%s/%s 快照序号 %d 与报告中的 %d 不一致", chain, project, id, nextID)
		report.CurrentSnapshotID = id
	}
	result.SnapshotID = id
	return nil
}

// publish 渲染Markdown并发送报告，通知关闭时只记录日志
func (m *Monitor) publish(report *models.DiffReport) error {
	if m.cfg.Notifier == nil || !m.cfg.Notifier.Enabled || m.deps.Output == nil {
		m.logger.Infof("%s/%s 检测到 %d 个合约变更，通知未启用", report.Chain, report.Project, len(report.Diffs))
		return nil
	}

	var meta *models.DiscoveryMeta
	if m.deps.Meta != nil {
		meta = m.deps.Meta.Get(report.Chain, report.Project)
	}
	report.Markdown = RenderReport(report, meta, m.maxLength)

	if err := m.deps.Output.WriteReport(report); err != nil {
		if m.deps.Logger != nil {
			sink := "json"
			if m.cfg.Output != nil && m.cfg.Output.Format != "" {
				sink = m.cfg.Output.Format
			}
			logging.NewNotifierLogger(m.deps.Logger, sink).Warn("变更报告发送失败",
				"chain", report.Chain, "project", report.Project, "error", err.Error())
		}
		return err
	}
	return nil
}

// withJob 为错误补充链名和项目名
func withJob(err error, chain, project string) error {
	me, ok := errors.AsMonitorError(err)
	if !ok {
		return errors.WrapError(err, errors.ErrorTypeSystem, errors.SeverityMedium, "CHECK_FAILED", "项目检测失败").
			WithChain(chain).WithProject(project)
	}
	if me.Chain != "" && me.Project != "" {
		return err
	}
	clone := me.WithCause(me.Cause)
	if clone.Chain == "" {
		clone.WithChain(chain)
	}
	if clone.Project == "" {
		clone.WithProject(project)
	}
	return clone
}
