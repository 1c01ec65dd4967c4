package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"updatemonitor/internal/config"
	monitorerrors "updatemonitor/internal/errors"
	"updatemonitor/internal/snapshot"
	"updatemonitor/pkg/models"
)

var (
	addrBridge = models.MustParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	addrSafe   = models.MustParseAddress("0xde0B295669a9FD93d5F28D9Ec85E40f4cb697BAe")
	addrInbox  = models.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

type memSource struct {
	mu      sync.Mutex
	outputs map[string]*models.DiscoveryOutput
}

func newMemSource() *memSource {
	return &memSource{outputs: make(map[string]*models.DiscoveryOutput)}
}

func (s *memSource) put(chain, project string, block uint64, contracts ...models.ContractParameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[chain+"/"+project] = &models.DiscoveryOutput{
		Name:        project,
		Chain:       chain,
		BlockNumber: block,
		Contracts:   contracts,
	}
}

func (s *memSource) Read(_ context.Context, chain, project string) (*models.DiscoveryOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outputs[chain+"/"+project]
	if !ok {
		return nil, monitorerrors.ErrDiscoveryNotFound.WithCause(fmt.Errorf("%s/%s", chain, project))
	}
	return out, nil
}

type fakeBlocks struct {
	block uint64
	err   error
}

func (b *fakeBlocks) HasRPC(string) bool { return true }

func (b *fakeBlocks) SafeBlockNumber(context.Context, string) (uint64, error) {
	return b.block, b.err
}

type captureOutput struct {
	mu      sync.Mutex
	reports []*models.DiffReport
	err     error
}

func (o *captureOutput) WriteReport(report *models.DiffReport) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.reports = append(o.reports, report)
	return nil
}

func (o *captureOutput) Close() error { return nil }

func (o *captureOutput) all() []*models.DiffReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*models.DiffReport(nil), o.reports...)
}

type staticMeta map[string]*models.DiscoveryMeta

func (m staticMeta) Get(chain, project string) *models.DiscoveryMeta {
	return m[chain+"/"+project]
}

func bridge(paused bool) models.ContractParameters {
	return models.ContractParameters{
		Name:           "Bridge",
		Address:        addrBridge,
		Upgradeability: models.EIP1967Proxy{Admin: addrSafe, Implementation: addrInbox},
		Values:         map[string]any{"paused": paused, "delay": 10},
	}
}

func safe(threshold int) models.ContractParameters {
	return models.ContractParameters{
		Name:           "Safe",
		Address:        addrSafe,
		Upgradeability: models.Immutable{},
		Values:         map[string]any{"threshold": threshold},
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(projects ...string) *config.Config {
	return &config.Config{
		Monitor: &config.MonitorConfig{Workers: 2, Interval: "10ms", Timeout: "5s"},
		Chains: []*config.ChainConfig{
			{Name: "ethereum", Projects: projects},
		},
		Discovery: &config.DiscoveryConfig{},
		Notifier:  &config.NotifierConfig{Enabled: true, MaxLength: config.DefaultMaxLength},
		Output:    &config.OutputConfig{Format: "json"},
	}
}

type fixture struct {
	monitor *Monitor
	source  *memSource
	store   *snapshot.Store
	output  *captureOutput
}

func newFixture(t *testing.T, cfg *config.Config, blocks BlockSource) *fixture {
	t.Helper()
	logger := testLogger()

	store, err := snapshot.Open(filepath.Join(t.TempDir(), "snapshots.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{source: newMemSource(), store: store, output: &captureOutput{}}
	deps := Dependencies{
		Source: f.source,
		Store:  store,
		Blocks: blocks,
		Meta:   staticMeta{},
		Output: f.output,
	}
	f.monitor, err = NewMonitor(cfg, deps, logger)
	require.NoError(t, err)
	return f
}

func TestCheckProject_FirstRunSavesBaseline(t *testing.T) {
	f := newFixture(t, testConfig("arbitrum"), nil)
	f.source.put("ethereum", "arbitrum", 100, bridge(false), safe(2))

	result := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, result.Err)

	assert.True(t, result.FirstRun)
	assert.False(t, result.Changed())
	assert.Equal(t, uint64(100), result.BlockNumber)
	assert.Empty(t, f.output.all())

	latest, err := f.store.Latest("ethereum", "arbitrum")
	require.NoError(t, err)
	assert.Equal(t, result.SnapshotID, latest.ID)
	assert.Len(t, latest.Contracts, 2)
}

func TestCheckProject_DetectsChanges(t *testing.T) {
	f := newFixture(t, testConfig("arbitrum"), nil)
	f.source.put("ethereum", "arbitrum", 100, bridge(false), safe(2))
	require.NoError(t, f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum").Err)

	f.source.put("ethereum", "arbitrum", 105, bridge(true))
	result := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, result.Err)
	require.True(t, result.Changed())

	report := result.Report
	assert.Equal(t, uint64(100), report.PreviousBlock)
	assert.Equal(t, uint64(105), report.CurrentBlock)
	assert.Equal(t, result.SnapshotID, report.CurrentSnapshotID)
	assert.NotEqual(t, report.PreviousSnapshotID, report.CurrentSnapshotID)

	created, deleted, modified := report.Summary()
	assert.Equal(t, 0, created)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, modified)

	reports := f.output.all()
	require.Len(t, reports, 1)
	assert.True(t, strings.HasPrefix(reports[0].Markdown, "arbitrum | ethereum | block 105\n\n"))
	assert.Contains(t, reports[0].Markdown, "Bridge")
	assert.LessOrEqual(t, len(reports[0].Markdown), config.DefaultMaxLength)

	infos, err := f.store.List("ethereum", "arbitrum")
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestCheckProject_NoChangesKeepsSnapshot(t *testing.T) {
	f := newFixture(t, testConfig("arbitrum"), nil)
	f.source.put("ethereum", "arbitrum", 100, bridge(false))
	first := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, first.Err)

	f.source.put("ethereum", "arbitrum", 110, bridge(false))
	result := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, result.Err)

	assert.False(t, result.Changed())
	assert.Nil(t, result.Report)
	assert.Equal(t, first.SnapshotID, result.SnapshotID)
	assert.Empty(t, f.output.all())

	infos, err := f.store.List("ethereum", "arbitrum")
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestCheckProject_IgnoreInWatchMode(t *testing.T) {
	cfg := testConfig("arbitrum")
	cfg.Discovery.Overrides = []*config.OverrideConfig{
		{Project: "arbitrum", Address: addrBridge.Hex(), IgnoreInWatchMode: []string{"paused"}},
	}
	f := newFixture(t, cfg, nil)

	f.source.put("ethereum", "arbitrum", 100, bridge(false))
	require.NoError(t, f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum").Err)

	f.source.put("ethereum", "arbitrum", 101, bridge(true))
	result := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, result.Err)
	assert.False(t, result.Changed())
	assert.Empty(t, f.output.all())
}

func TestCheckProject_NotifierDisabled(t *testing.T) {
	cfg := testConfig("arbitrum")
	cfg.Notifier.Enabled = false
	f := newFixture(t, cfg, nil)

	f.source.put("ethereum", "arbitrum", 100, safe(1))
	require.NoError(t, f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum").Err)
	f.source.put("ethereum", "arbitrum", 101, safe(2))

	result := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, result.Err)
	assert.True(t, result.Changed())
	assert.Empty(t, result.Report.Markdown)
	assert.Empty(t, f.output.all())
}

func TestCheckProject_UsesSafeBlock(t *testing.T) {
	f := newFixture(t, testConfig("arbitrum"), &fakeBlocks{block: 4242})
	f.source.put("ethereum", "arbitrum", 100, safe(1))

	result := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, result.Err)
	assert.Equal(t, uint64(4242), result.BlockNumber)

	latest, err := f.store.Latest("ethereum", "arbitrum")
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), latest.BlockNumber)
}

func TestCheckProject_ReorgUnsafe(t *testing.T) {
	rpcErr := monitorerrors.ErrReorgUnsafe.WithCause(errors.New("head 3")).WithChain("ethereum")
	f := newFixture(t, testConfig("arbitrum"), &fakeBlocks{err: rpcErr})
	f.source.put("ethereum", "arbitrum", 100, safe(1))

	result := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, monitorerrors.ErrReorgUnsafe)
	me, ok := monitorerrors.AsMonitorError(result.Err)
	require.True(t, ok)
	assert.Equal(t, "arbitrum", me.Project)
	assert.Empty(t, rpcErr.Project)

	_, err := f.store.Latest("ethereum", "arbitrum")
	assert.ErrorIs(t, err, monitorerrors.ErrSnapshotNotFound)
}

func TestCheckProject_InvalidSnapshot(t *testing.T) {
	f := newFixture(t, testConfig("arbitrum"), nil)
	dup := safe(1)
	dup.Name = "SafeCopy"
	f.source.put("ethereum", "arbitrum", 100, safe(1), dup)

	result := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, monitorerrors.ErrSnapshotInvalid)

	me, ok := monitorerrors.AsMonitorError(result.Err)
	require.True(t, ok)
	assert.Equal(t, "ethereum", me.Chain)
	assert.Equal(t, "arbitrum", me.Project)
}

func TestCheckProject_OutputFailureRetriedNextPass(t *testing.T) {
	f := newFixture(t, testConfig("arbitrum"), nil)
	f.source.put("ethereum", "arbitrum", 100, safe(1))
	baseline := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, baseline.Err)

	f.output.err = errors.New("broker unavailable")
	f.source.put("ethereum", "arbitrum", 101, safe(3))

	failed := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.Error(t, failed.Err)
	assert.Contains(t, failed.Err.Error(), "broker unavailable")
	assert.Equal(t, baseline.SnapshotID, failed.SnapshotID)

	// 发送失败后快照保持不变
	latest, err := f.store.Latest("ethereum", "arbitrum")
	require.NoError(t, err)
	assert.Equal(t, baseline.SnapshotID, latest.ID)
	assert.Equal(t, uint64(100), latest.BlockNumber)

	f.output.err = nil
	next := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, next.Err)
	require.True(t, next.Changed())

	reports := f.output.all()
	require.Len(t, reports, 1)
	assert.Equal(t, baseline.SnapshotID, reports[0].PreviousSnapshotID)
	assert.Equal(t, next.SnapshotID, reports[0].CurrentSnapshotID)
	assert.Equal(t, uint64(101), reports[0].CurrentBlock)

	latest, err = f.store.Latest("ethereum", "arbitrum")
	require.NoError(t, err)
	assert.Equal(t, next.SnapshotID, latest.ID)
	assert.Equal(t, uint64(101), latest.BlockNumber)
}

func TestCheckProject_StaleDiscoverySkipped(t *testing.T) {
	f := newFixture(t, testConfig("arbitrum"), nil)
	f.source.put("ethereum", "arbitrum", 200, safe(1))
	first := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, first.Err)

	f.source.put("ethereum", "arbitrum", 150, safe(5))
	result := f.monitor.CheckProject(context.Background(), "ethereum", "arbitrum")
	require.NoError(t, result.Err)
	assert.False(t, result.Changed())
	assert.Equal(t, first.SnapshotID, result.SnapshotID)
}

func TestRunOnce_IsolatesFailures(t *testing.T) {
	f := newFixture(t, testConfig("arbitrum", "optimism", "missing"), nil)
	f.source.put("ethereum", "arbitrum", 100, safe(1))
	f.source.put("ethereum", "optimism", 100, bridge(false))

	result, err := f.monitor.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Projects, 3)
	assert.Equal(t, 1, result.Failed())
	assert.Equal(t, 0, result.Changed())

	for _, p := range result.Projects {
		if p.Project == "missing" {
			assert.ErrorIs(t, p.Err, monitorerrors.ErrDiscoveryNotFound)
		} else {
			assert.NoError(t, p.Err)
			assert.True(t, p.FirstRun)
		}
	}
	assert.Same(t, result, f.monitor.LastRun())

	stats := f.monitor.deps.ErrorHandler.Snapshot()
	assert.Equal(t, 1, stats.TotalErrors)
	assert.Equal(t, map[string]int{"ethereum/missing": 1}, stats.FailingProjects)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, testConfig("arbitrum"), nil)
	f.source.put("ethereum", "arbitrum", 100, safe(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.monitor.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return f.monitor.LastRun() != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("监视模式没有退出")
	}
}

func TestNewMonitor_InvalidConfig(t *testing.T) {
	logger := testLogger()
	deps := Dependencies{Source: newMemSource(), Store: &snapshot.Store{}}

	cfg := testConfig("arbitrum")
	cfg.Monitor.Interval = "soon"
	_, err := NewMonitor(cfg, deps, logger)
	assert.Error(t, err)

	cfg = testConfig("arbitrum")
	cfg.Discovery.Overrides = []*config.OverrideConfig{{Project: "arbitrum", Address: "0x1234"}}
	_, err = NewMonitor(cfg, deps, logger)
	assert.Error(t, err)

	_, err = NewMonitor(testConfig("arbitrum"), Dependencies{Source: newMemSource()}, logger)
	assert.Error(t, err)
}

func TestRenderReport_RespectsBudget(t *testing.T) {
	var diffs []models.ContractDiff
	for i := 0; i < 50; i++ {
		diffs = append(diffs, models.ContractDiff{
			Name:    fmt.Sprintf("Contract%d", i),
			Address: addrBridge,
			Type:    models.ContractCreated,
		})
	}
	report := &models.DiffReport{Chain: "ethereum", Project: "arbitrum", CurrentBlock: 7, Diffs: diffs}

	for _, limit := range []int{10, 200, 1000} {
		md := RenderReport(report, nil, limit)
		assert.LessOrEqual(t, len(md), limit)
	}
	assert.True(t, strings.HasPrefix(RenderReport(report, nil, 1000), "arbitrum | ethereum | block 7"))
}

func TestRenderReport_NoDiffs(t *testing.T) {
	report := &models.DiffReport{Chain: "ethereum", Project: "arbitrum", CurrentBlock: 7, Diffs: []models.ContractDiff{}}
	assert.Equal(t, "", RenderReport(report, nil, 1000))

	report.Diffs = nil
	assert.Equal(t, "", RenderReport(report, nil, 1000))
}
