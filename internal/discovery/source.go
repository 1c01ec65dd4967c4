package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	monitorerrors "updatemonitor/internal/errors"
	"updatemonitor/pkg/models"
)

// FileName 每个项目的发现结果文件名
const FileName = "discovered.json"

// Source 提供已解析的发现结果
type Source interface {
	Read(ctx context.Context, chain, project string) (*models.DiscoveryOutput, error)
}

// FileSource 从 <dir>/<chain>/<project>/discovered.json 读取发现结果
type FileSource struct {
	dir    string
	logger *logrus.Logger
}

// NewFileSource 创建文件发现源
func NewFileSource(dir string, logger *logrus.Logger) *FileSource {
	return &FileSource{dir: dir, logger: logger}
}

// Path 返回项目发现结果文件路径
func (s *FileSource) Path(chain, project string) string {
	return filepath.Join(s.dir, chain, project, FileName)
}

// Read 读取并解析发现结果
func (s *FileSource) Read(ctx context.Context, chain, project string) (*models.DiscoveryOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.Path(chain, project)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, monitorerrors.ErrDiscoveryNotFound.WithCause(err).WithChain(chain).WithProject(project).WithComponent("discovery")
		}
		return nil, fmt.Errorf("读取发现结果失败: %w", err)
	}

	var output models.DiscoveryOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, monitorerrors.WrapError(err, monitorerrors.ErrorTypeSerialization, monitorerrors.SeverityMedium,
			"DISCOVERY_INVALID", "发现结果格式错误").WithChain(chain).WithProject(project)
	}

	if output.Chain != "" && output.Chain != chain {
		s.logger.Warnf("发现结果链名不一致: 文件 %s, 目录 %s", output.Chain, chain)
	}
	if output.Name == "" {
		output.Name = project
	}

	s.logger.WithFields(logrus.Fields{
		"chain":     chain,
		"project":   project,
		"block":     output.BlockNumber,
		"contracts": len(output.Contracts),
	}).Debug("已读取发现结果")

	return &output, nil
}

// Projects 列出某条链目录下存在发现结果的项目
func (s *FileSource) Projects(chain string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, chain))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取发现目录失败: %w", err)
	}

	var projects []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(s.Path(chain, entry.Name())); err == nil {
			projects = append(projects, entry.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}
