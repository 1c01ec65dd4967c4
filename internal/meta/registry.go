// Package meta 加载并提供合约注释（描述、字段类型和严重程度）
package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	monitorerrors "updatemonitor/internal/errors"
	"updatemonitor/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileName 每个项目目录下的注释文件名
const FileName = "meta.json"

type key struct {
	chain   string
	project string
}

// snapshot 一次加载得到的只读注释表，安装后不再修改
type snapshot struct {
	entries  map[key]*models.DiscoveryMeta
	loadedAt time.Time
}

// Registry 注释注册表
//
// 刷新时整体替换快照，正在渲染的调用始终看到一致的注释表。
type Registry struct {
	dir     string
	logger  *logrus.Logger
	current atomic.Pointer[snapshot]
}

// NewRegistry 创建注册表，dir 为空时注册表始终为空
func NewRegistry(dir string, logger *logrus.Logger) *Registry {
	r := &Registry{dir: dir, logger: logger}
	r.current.Store(&snapshot{entries: map[key]*models.DiscoveryMeta{}})
	return r
}

// Get 查找某条链上某个项目的注释，未配置时返回nil
func (r *Registry) Get(chain, project string) *models.DiscoveryMeta {
	return r.current.Load().entries[key{chain: chain, project: project}]
}

// Len 已加载的项目数
func (r *Registry) Len() int {
	return len(r.current.Load().entries)
}

// LoadedAt 最近一次成功加载的时间
func (r *Registry) LoadedAt() time.Time {
	return r.current.Load().loadedAt
}

// Set 直接安装某个项目的注释，不经过文件
func (r *Registry) Set(chain, project string, m *models.DiscoveryMeta) {
	for {
		old := r.current.Load()
		entries := make(map[key]*models.DiscoveryMeta, len(old.entries)+1)
		for k, v := range old.entries {
			entries[k] = v
		}
		entries[key{chain: chain, project: project}] = m
		if r.current.CompareAndSwap(old, &snapshot{entries: entries, loadedAt: time.Now()}) {
			return
		}
	}
}

// Reload 重新加载 <dir>/<chain>/<project>/meta.json
//
// 任何文件解析失败时保留旧的注释表并返回错误。
func (r *Registry) Reload() error {
	if r.dir == "" {
		return nil
	}

	entries := make(map[key]*models.DiscoveryMeta)
	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != FileName {
			return nil
		}

		rel, err := filepath.Rel(r.dir, filepath.Dir(path))
		if err != nil {
			return err
		}
		chain, project := filepath.Split(rel)
		chain = filepath.Clean(chain)
		if chain == "." || project == "" || filepath.Dir(chain) != "." {
			r.logger.Warnf("忽略位置不正确的注释文件: %s", path)
			return nil
		}

		m, err := LoadFile(path)
		if err != nil {
			return err
		}
		entries[key{chain: chain, project: project}] = m
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Warnf("注释目录不存在: %s", r.dir)
			return nil
		}
		return monitorerrors.ErrMetaInvalid.WithCause(fmt.Errorf("加载注释失败: %w", err))
	}

	r.current.Store(&snapshot{entries: entries, loadedAt: time.Now()})
	r.logger.Infof("已加载 %d 个项目的合约注释", len(entries))
	return nil
}

// LoadFile 读取单个注释文件
func LoadFile(path string) (*models.DiscoveryMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取注释文件失败: %w", err)
	}

	var m models.DiscoveryMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("解析注释文件 %s 失败: %w", path, err)
	}
	for i, c := range m.Contracts {
		if c.Name == "" {
			return nil, fmt.Errorf("注释文件 %s 第 %d 个合约缺少名称", path, i)
		}
	}
	return &m, nil
}

// Watch 监听注释目录，文件变化后重新加载，直到ctx取消
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	if r.dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	defer watcher.Close()

	// fsnotify 不递归，逐个添加目录
	err = filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("监听注释目录失败: %w", err)
	}

	r.logger.Infof("开始监听注释目录: %s", r.dir)

	var timer <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						r.logger.Warnf("添加监听目录失败: %v", err)
					}
				}
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				timer = time.After(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Errorf("注释目录监听错误: %v", err)
		case <-timer:
			timer = nil
			if err := r.Reload(); err != nil {
				r.logger.Errorf("重新加载注释失败，继续使用旧版本: %v", err)
			}
		}
	}
}
