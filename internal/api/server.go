package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"updatemonitor/internal/config"
	"updatemonitor/internal/diff"
	monitorerrors "updatemonitor/internal/errors"
	"updatemonitor/internal/monitor"
	"updatemonitor/internal/snapshot"
	"updatemonitor/pkg/models"
)

// renderCacheSize 报告渲染缓存的条目数
const renderCacheSize = 256

// SnapshotReader 只读快照访问
type SnapshotReader interface {
	LatestPair(chain, project string) (previous, latest *models.Snapshot, err error)
	List(chain, project string) ([]snapshot.Info, error)
	Projects(chain string) ([]string, error)
}

// MetaRegistry 合约注释注册表
type MetaRegistry interface {
	Get(chain, project string) *models.DiscoveryMeta
	Reload() error
	Len() int
	LoadedAt() time.Time
}

// StatsProvider 提供连接状态
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Options 服务器依赖，除 Config 和 Store 外都可以为空
type Options struct {
	Config        *config.Config
	Store         SnapshotReader
	Meta          MetaRegistry
	Monitor       *monitor.Monitor
	ErrorHandler  *monitorerrors.ErrorHandler
	ConfigManager *ConfigManager
	Connections   StatsProvider
	Port          int
}

// renderKey 同一对快照在同一长度上限下的渲染结果不变
type renderKey struct {
	chain      string
	project    string
	previousID uint64
	currentID  uint64
	maxLength  int
}

// Server API服务器
type Server struct {
	opts        Options
	logger      *logrus.Logger
	logs        *LogBuffer
	renderCache *lru.Cache[renderKey, string]
	server      *http.Server
	startTime   time.Time

	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewServer 创建新的API服务器
func NewServer(opts Options, logger *logrus.Logger) (*Server, error) {
	if opts.Config == nil || opts.Store == nil {
		return nil, fmt.Errorf("API服务器缺少配置或快照存储")
	}

	cache, err := lru.New[renderKey, string](renderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("创建渲染缓存失败: %w", err)
	}

	logs := NewLogBuffer(defaultLogCapacity)
	logger.AddHook(logs)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:        opts,
		logger:      logger,
		logs:        logs,
		renderCache: cache,
		startTime:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Handler 构建路由
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
	router.Use(gin.Recovery())

	s.setupRoutes(router)
	return router
}

// Start 启动API服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("API服务器启动在端口 %d", s.opts.Port)
	if err := s.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API服务器运行失败: %w", err)
	}
	return nil
}

// Stop 停止API服务器，取消正在进行的检测
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 检测控制
		api.GET("/status", s.getStatus)
		api.POST("/run", s.triggerRun)

		// 快照与变更
		api.GET("/chains", s.getChains)
		api.GET("/chains/:chain/projects", s.getProjects)
		api.GET("/chains/:chain/projects/:project/snapshots", s.getSnapshots)
		api.GET("/chains/:chain/projects/:project/diff", s.getDiff)
		api.GET("/chains/:chain/projects/:project/report", s.getReport)

		// 合约注释
		api.POST("/meta/reload", s.reloadMeta)

		// 错误统计
		api.GET("/errors", s.getErrorStats)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)

		// 数据库配置
		if s.opts.ConfigManager != nil {
			api.GET("/config/:type", s.opts.ConfigManager.GetConfig)
			api.PUT("/config/:type", s.opts.ConfigManager.UpdateConfig)
			api.GET("/chain-configs", s.opts.ConfigManager.GetChains)
			api.PUT("/chain-configs/:name", s.opts.ConfigManager.UpsertChain)
			api.DELETE("/chain-configs/:name", s.opts.ConfigManager.DeactivateChain)
		}
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "updatemonitor-api",
	})
}

// getStatus 检测器状态和最近一轮结果
func (s *Server) getStatus(c *gin.Context) {
	s.mu.RLock()
	running := s.isRunning
	s.mu.RUnlock()

	status := gin.H{
		"running": running,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	}

	if s.opts.Monitor != nil {
		if last := s.opts.Monitor.LastRun(); last != nil {
			status["last_run"] = gin.H{
				"start_time": last.StartTime,
				"duration":   last.Duration.String(),
				"projects":   len(last.Projects),
				"changed":    last.Changed(),
				"failed":     last.Failed(),
			}
		}
		status["validation"] = s.opts.Monitor.ValidationStats()
	}
	if s.opts.Connections != nil {
		status["connections"] = s.opts.Connections.GetStats()
	}

	c.JSON(http.StatusOK, status)
}

// triggerRun 在后台执行一轮检测
func (s *Server) triggerRun(c *gin.Context) {
	if s.opts.Monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "检测器未配置"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		c.JSON(http.StatusConflict, gin.H{"error": "检测已在运行"})
		return
	}
	s.isRunning = true

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		result, err := s.opts.Monitor.RunOnce(s.ctx)
		if err != nil {
			s.logger.Errorf("手动检测失败: %v", err)
			return
		}
		s.logger.Infof("手动检测完成: %d 个项目, %d 个有变更", len(result.Projects), result.Changed())
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "检测任务已启动",
		"status":  "started",
	})
}

// getChains 已配置的链
func (s *Server) getChains(c *gin.Context) {
	chains := make([]gin.H, 0, len(s.opts.Config.Chains))
	for _, chain := range s.opts.Config.Chains {
		chains = append(chains, gin.H{
			"name":             chain.Name,
			"projects":         chain.Projects,
			"rpc_configured":   chain.RPCURL != "",
			"reorg_safe_depth": chain.ReorgSafeDepth,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"chains": chains,
		"total":  len(chains),
	})
}

// getProjects 某条链上已有快照的项目
func (s *Server) getProjects(c *gin.Context) {
	chain, ok := s.requireChain(c)
	if !ok {
		return
	}

	projects, err := s.opts.Store.Projects(chain)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chain":    chain,
		"projects": projects,
	})
}

// getSnapshots 项目的快照列表
func (s *Server) getSnapshots(c *gin.Context) {
	chain, ok := s.requireChain(c)
	if !ok {
		return
	}
	project := c.Param("project")

	infos, err := s.opts.Store.List(chain, project)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chain":     chain,
		"project":   project,
		"snapshots": infos,
		"total":     len(infos),
	})
}

// getDiff 最新快照与上一个快照的变更
func (s *Server) getDiff(c *gin.Context) {
	chain, ok := s.requireChain(c)
	if !ok {
		return
	}
	project := c.Param("project")

	report, err := s.latestReport(chain, project)
	if err != nil {
		s.respondError(c, err)
		return
	}

	created, deleted, modified := report.Summary()
	c.JSON(http.StatusOK, gin.H{
		"chain":                report.Chain,
		"project":              report.Project,
		"previous_snapshot_id": report.PreviousSnapshotID,
		"current_snapshot_id":  report.CurrentSnapshotID,
		"previous_block":       report.PreviousBlock,
		"current_block":        report.CurrentBlock,
		"diffs":                report.Diffs,
		"summary": gin.H{
			"created":  created,
			"deleted":  deleted,
			"modified": modified,
		},
	})
}

// getReport 最新变更的Markdown报告，max_length 默认为通知长度上限
func (s *Server) getReport(c *gin.Context) {
	chain, ok := s.requireChain(c)
	if !ok {
		return
	}
	project := c.Param("project")

	maxLength := config.DefaultMaxLength
	if s.opts.Config.Notifier != nil && s.opts.Config.Notifier.MaxLength > 0 {
		maxLength = s.opts.Config.Notifier.MaxLength
	}
	if v := c.Query("max_length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_length 必须是正整数"})
			return
		}
		maxLength = n
	}

	report, err := s.latestReport(chain, project)
	if err != nil {
		s.respondError(c, err)
		return
	}

	key := renderKey{
		chain:      chain,
		project:    project,
		previousID: report.PreviousSnapshotID,
		currentID:  report.CurrentSnapshotID,
		maxLength:  maxLength,
	}
	rendered, hit := s.renderCache.Get(key)
	if !hit {
		var meta *models.DiscoveryMeta
		if s.opts.Meta != nil {
			meta = s.opts.Meta.Get(chain, project)
		}
		rendered = monitor.RenderReport(report, meta, maxLength)
		s.renderCache.Add(key, rendered)
	}

	c.Header("X-Render-Cache", strconv.FormatBool(hit))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(rendered))
}

// latestReport 最新两个快照的变更，使用检测器的比较选项
func (s *Server) latestReport(chain, project string) (*models.DiffReport, error) {
	var opts *diff.Options
	if s.opts.Monitor != nil {
		opts = s.opts.Monitor.DiffOptions(project)
	}
	return monitor.LatestReport(s.opts.Store, chain, project, opts)
}

// reloadMeta 重新加载合约注释，渲染缓存随之失效
func (s *Server) reloadMeta(c *gin.Context) {
	if s.opts.Meta == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "合约注释目录未配置"})
		return
	}

	if err := s.opts.Meta.Reload(); err != nil {
		s.respondError(c, err)
		return
	}
	s.renderCache.Purge()

	c.JSON(http.StatusOK, gin.H{
		"message":   "合约注释已重新加载",
		"projects":  s.opts.Meta.Len(),
		"loaded_at": s.opts.Meta.LoadedAt(),
	})
}

// getErrorStats 错误统计
func (s *Server) getErrorStats(c *gin.Context) {
	if s.opts.ErrorHandler == nil {
		c.JSON(http.StatusOK, gin.H{"total_errors": 0})
		return
	}
	c.JSON(http.StatusOK, s.opts.ErrorHandler.Snapshot())
}

// getLogs 按级别、链和项目分页查询最近日志
func (s *Server) getLogs(c *gin.Context) {
	q := LogQuery{
		Level:    c.Query("level"),
		Chain:    c.Query("chain"),
		Project:  c.Query("project"),
		Page:     1,
		PageSize: 20,
	}
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		q.Page = p
	}
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		q.PageSize = ps
	}

	logs, total := s.logs.Query(q)
	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     q.Page,
		"pageSize": q.PageSize,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logs.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}

// requireChain 检查链是否已配置
func (s *Server) requireChain(c *gin.Context) (string, bool) {
	chain := c.Param("chain")
	if s.opts.Config.Chain(chain) == nil {
		s.respondError(c, monitorerrors.ErrUnknownChain.WithCause(fmt.Errorf("链 %s 未配置", chain)).WithChain(chain))
		return "", false
	}
	return chain, true
}

// respondError 按错误类型返回状态码
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case stderrors.Is(err, monitorerrors.ErrSnapshotNotFound), stderrors.Is(err, monitorerrors.ErrUnknownChain):
		status = http.StatusNotFound
	case stderrors.Is(err, monitorerrors.ErrMetaInvalid):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.logger.Errorf("处理请求 %s 失败: %v", c.Request.URL.Path, err)
	}

	body := gin.H{"error": err.Error()}
	if me, ok := monitorerrors.AsMonitorError(err); ok {
		body["code"] = me.Code
	}
	c.JSON(status, body)
}
