package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"updatemonitor/internal/app"
	"updatemonitor/internal/config"
	"updatemonitor/internal/logging"
	"updatemonitor/internal/monitor"
	"updatemonitor/internal/shutdown"
)

var (
	configFile string
	verbose    bool

	// run 参数
	watch   bool
	chain   string
	project string

	// diff 参数
	maxLength int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "updatemonitor",
		Short:         "合约发现结果更新检测工具",
		Long:          `比较每个项目最新的合约发现结果与上一次快照，发送带长度上限的Markdown变更报告`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "执行更新检测",
		RunE:  run,
	}
	runCmd.Flags().BoolVar(&watch, "watch", false, "监视模式，按配置的间隔重复检测")
	runCmd.Flags().StringVar(&chain, "chain", "", "只检测指定链上的项目")
	runCmd.Flags().StringVar(&project, "project", "", "只检测指定项目（需要同时指定 --chain）")

	diffCmd := &cobra.Command{
		Use:   "diff",
		Short: "显示项目最新两个快照之间的变更",
		RunE:  showDiff,
	}
	diffCmd.Flags().StringVar(&chain, "chain", "", "链名")
	diffCmd.Flags().StringVar(&project, "project", "", "项目名")
	diffCmd.Flags().IntVar(&maxLength, "max-length", 0, "Markdown长度上限，默认使用通知配置")
	_ = diffCmd.MarkFlagRequired("chain")
	_ = diffCmd.MarkFlagRequired("project")

	snapshotsCmd := &cobra.Command{
		Use:   "snapshots",
		Short: "列出项目的快照",
		RunE:  listSnapshots,
	}
	snapshotsCmd.Flags().StringVar(&chain, "chain", "", "链名")
	snapshotsCmd.Flags().StringVar(&project, "project", "", "项目名，为空时列出该链上的项目")
	_ = snapshotsCmd.MarkFlagRequired("chain")

	rootCmd.AddCommand(runCmd, diffCmd, snapshotsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// newLogger 按配置创建日志器，配置无效时退回默认文本格式
func newLogger(cfg *config.Config) *logrus.Logger {
	logger, err := logging.NewLogrusLogger(cfg.Logging)
	if err != nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.Warnf("日志配置无效，使用默认配置: %v", err)
	}
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func loadApp(ctx context.Context, withOutput bool) (*app.App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return app.New(ctx, cfg, newLogger(cfg), withOutput)
}

func run(cmd *cobra.Command, args []string) error {
	if project != "" && chain == "" {
		return fmt.Errorf("指定 --project 时需要同时指定 --chain")
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	logger := newLogger(cfg)

	if chain != "" {
		if err := narrowConfig(cfg, chain, project); err != nil {
			return err
		}
	}

	gs := shutdown.NewGracefulShutdown(0, logger)
	ctx := gs.Context()

	a, err := app.New(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	a.RegisterShutdown(gs)
	gs.Start()

	var runErr error
	if watch {
		a.WatchMeta(ctx)
		if err := a.Monitor.Run(ctx); err != nil && ctx.Err() == nil {
			runErr = err
		}
	} else {
		result, err := a.Monitor.RunOnce(ctx)
		if err != nil {
			runErr = err
		} else {
			printRunResult(result)
			if failed := result.Failed(); failed > 0 {
				runErr = fmt.Errorf("%d 个项目检测失败", failed)
			}
		}
	}

	logger.Info("等待优雅停机完成...")
	if err := gs.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// narrowConfig 只保留指定链（和项目）
func narrowConfig(cfg *config.Config, chainName, projectName string) error {
	chainCfg := cfg.Chain(chainName)
	if chainCfg == nil {
		return fmt.Errorf("链 %s 未配置", chainName)
	}
	if projectName != "" {
		found := false
		for _, p := range chainCfg.Projects {
			if p == projectName {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("项目 %s 不在链 %s 的配置中", projectName, chainName)
		}
		chainCfg.Projects = []string{projectName}
	}
	cfg.Chains = []*config.ChainConfig{chainCfg}
	return nil
}

func printRunResult(result *monitor.RunResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN\tPROJECT\tSNAPSHOT\tBLOCK\tSTATUS")
	for _, p := range result.Projects {
		status := "unchanged"
		switch {
		case p.Err != nil:
			status = "error: " + p.Err.Error()
		case p.FirstRun:
			status = "baseline"
		case p.Changed():
			created, deleted, modified := p.Report.Summary()
			status = fmt.Sprintf("changed (+%d -%d ~%d)", created, deleted, modified)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", p.Chain, p.Project, p.SnapshotID, p.BlockNumber, status)
	}
	w.Flush()
	fmt.Printf("%d 个项目，%d 个有变更，%d 个失败，耗时 %s\n",
		len(result.Projects), result.Changed(), result.Failed(), result.Duration.Round(time.Millisecond))
}

func showDiff(cmd *cobra.Command, args []string) error {
	a, err := loadApp(context.Background(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := monitor.LatestReport(a.Store, chain, project, a.Monitor.DiffOptions(project))
	if err != nil {
		return err
	}
	if len(report.Diffs) == 0 {
		fmt.Printf("%s/%s 快照 %d 没有变更\n", chain, project, report.CurrentSnapshotID)
		return nil
	}

	budget := a.Config.Notifier.MaxLength
	if maxLength > 0 {
		budget = maxLength
	}
	fmt.Println(monitor.RenderReport(report, a.Meta.Get(chain, project), budget))
	return nil
}

// listProjects 列出链上已有发现结果或快照的项目
func listProjects(a *app.App) error {
	discovered, err := a.Source.Projects(chain)
	if err != nil {
		return err
	}
	stored, err := a.Store.Projects(chain)
	if err != nil {
		return err
	}

	projects := append(slices.Clone(discovered), stored...)
	slices.Sort(projects)
	projects = slices.Compact(projects)

	fmt.Printf("快照库: %s\n", a.Store.Path())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tDISCOVERED\tSNAPSHOTS\tLATEST BLOCK")
	for _, p := range projects {
		infos, err := a.Store.List(chain, p)
		if err != nil {
			return err
		}
		latest := "-"
		if len(infos) > 0 {
			latest = fmt.Sprint(infos[len(infos)-1].BlockNumber)
		}
		fmt.Fprintf(w, "%s\t%t\t%d\t%s\n", p, slices.Contains(discovered, p), len(infos), latest)
	}
	return w.Flush()
}

func listSnapshots(cmd *cobra.Command, args []string) error {
	a, err := loadApp(context.Background(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if project == "" {
		return listProjects(a)
	}

	infos, err := a.Store.List(chain, project)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBLOCK\tTIMESTAMP\tCONTRACTS")
	for _, info := range infos {
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\n", info.ID, info.BlockNumber, info.Timestamp.Format(time.RFC3339), info.Contracts)
	}
	return w.Flush()
}
