package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	monitorerrors "updatemonitor/internal/errors"
	"updatemonitor/pkg/models"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/snapshots.db"

	// 顶层存储桶，其下每个 chain/project 一个子桶
	SnapshotsBucket = "snapshots"

	keySeparator = "/"
)

// Info 快照摘要，列表接口不返回合约内容
type Info struct {
	ID          uint64    `json:"id"`
	BlockNumber uint64    `json:"block_number"`
	Timestamp   time.Time `json:"timestamp"`
	Contracts   int       `json:"contracts"`
}

// Store 基于BoltDB的快照存储，只追加不覆盖
type Store struct {
	db     *bolt.DB
	logger *logrus.Logger
	path   string
}

// Open 打开快照存储
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if path == "" {
		path = DefaultDBPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开快照数据库失败: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(SnapshotsBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	logger.Infof("快照存储已初始化，数据库路径: %s", path)
	return &Store{db: db, logger: logger, path: path}, nil
}

func projectKey(chain, project string) []byte {
	return []byte(chain + keySeparator + project)
}

func idKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func notFound(chain, project, reason string) error {
	return monitorerrors.ErrSnapshotNotFound.
		WithCause(errors.New(reason)).
		WithChain(chain).
		WithProject(project)
}

// Save 追加保存快照，返回分配的序号。传入的快照不会被修改
func (s *Store) Save(snap *models.Snapshot) (uint64, error) {
	if snap == nil {
		return 0, fmt.Errorf("快照为空")
	}
	if snap.Chain == "" || snap.Project == "" {
		return 0, fmt.Errorf("快照缺少链名或项目名")
	}

	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket([]byte(SnapshotsBucket)).CreateBucketIfNotExists(projectKey(snap.Chain, snap.Project))
		if err != nil {
			return fmt.Errorf("创建项目存储桶失败: %w", err)
		}

		id, err = bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("分配快照序号失败: %w", err)
		}

		stored := *snap
		stored.ID = id
		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("序列化快照失败: %w", err)
		}

		return bucket.Put(idKey(id), data)
	})
	if err != nil {
		return 0, monitorerrors.ErrStorageFailed.WithCause(err).WithChain(snap.Chain).WithProject(snap.Project).WithComponent("snapshot_store")
	}

	s.logger.WithFields(logrus.Fields{
		"chain":     snap.Chain,
		"project":   snap.Project,
		"id":        id,
		"block":     snap.BlockNumber,
		"contracts": len(snap.Contracts),
	}).Debug("快照已保存")

	return id, nil
}

// NextID 下一次 Save 将分配的序号，用于在保存前发布报告
func (s *Store) NextID(chain, project string) (uint64, error) {
	var next uint64 = 1
	err := s.db.View(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket([]byte(SnapshotsBucket)).Bucket(projectKey(chain, project)); bucket != nil {
			next = bucket.Sequence() + 1
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("读取快照序号失败: %w", err)
	}
	return next, nil
}

func decodeSnapshot(data []byte) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("解析快照失败: %w", err)
	}
	return &snap, nil
}

// Latest 返回最新快照
func (s *Store) Latest(chain, project string) (*models.Snapshot, error) {
	snaps, err := s.lastN(chain, project, 1)
	if err != nil {
		return nil, err
	}
	return snaps[0], nil
}

// Previous 返回最新快照之前的一个快照
func (s *Store) Previous(chain, project string) (*models.Snapshot, error) {
	snaps, err := s.lastN(chain, project, 2)
	if err != nil {
		return nil, err
	}
	if len(snaps) < 2 {
		return nil, notFound(chain, project, "只有一个快照")
	}
	return snaps[1], nil
}

// LatestPair 返回 (上一个, 最新) 快照，上一个不存在时为nil
func (s *Store) LatestPair(chain, project string) (previous, latest *models.Snapshot, err error) {
	snaps, err := s.lastN(chain, project, 2)
	if err != nil {
		return nil, nil, err
	}
	if len(snaps) == 2 {
		previous = snaps[1]
	}
	return previous, snaps[0], nil
}

// lastN 从新到旧返回最多n个快照，一个都没有时返回ErrSnapshotNotFound
func (s *Store) lastN(chain, project string, n int) ([]*models.Snapshot, error) {
	var snaps []*models.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(SnapshotsBucket)).Bucket(projectKey(chain, project))
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.Last(); k != nil && len(snaps) < n; k, v = c.Prev() {
			snap, err := decodeSnapshot(v)
			if err != nil {
				return err
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("读取快照失败: %w", err)
	}
	if len(snaps) == 0 {
		return nil, notFound(chain, project, "没有快照")
	}
	return snaps, nil
}

// Get 按序号读取快照
func (s *Store) Get(chain, project string, id uint64) (*models.Snapshot, error) {
	var snap *models.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(SnapshotsBucket)).Bucket(projectKey(chain, project))
		if bucket == nil {
			return nil
		}
		data := bucket.Get(idKey(id))
		if data == nil {
			return nil
		}
		var err error
		snap, err = decodeSnapshot(data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("读取快照失败: %w", err)
	}
	if snap == nil {
		return nil, notFound(chain, project, fmt.Sprintf("快照 %d 不存在", id))
	}
	return snap, nil
}

// List 按序号升序列出快照摘要
func (s *Store) List(chain, project string) ([]Info, error) {
	infos := make([]Info, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(SnapshotsBucket)).Bucket(projectKey(chain, project))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			snap, err := decodeSnapshot(v)
			if err != nil {
				return err
			}
			infos = append(infos, Info{
				ID:          snap.ID,
				BlockNumber: snap.BlockNumber,
				Timestamp:   snap.Timestamp,
				Contracts:   len(snap.Contracts),
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("列出快照失败: %w", err)
	}
	return infos, nil
}

// Projects 返回某条链上有快照的项目，按名称排序
func (s *Store) Projects(chain string) ([]string, error) {
	prefix := chain + keySeparator
	projects := make([]string, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(SnapshotsBucket)).ForEachBucket(func(k []byte) error {
			if name, ok := strings.CutPrefix(string(k), prefix); ok {
				projects = append(projects, name)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("列出项目失败: %w", err)
	}
	sort.Strings(projects)
	return projects, nil
}

// Path 数据库路径
func (s *Store) Path() string {
	return s.path
}

// Close 关闭快照存储
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info("关闭快照存储")
		return s.db.Close()
	}
	return nil
}
