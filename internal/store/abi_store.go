package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "abiscope/internal/errors"
	"abiscope/pkg/models"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/abiscope.db"

	// 存储桶名称
	ABIBucket   = "abis"
	StatsBucket = "stats"
)

// Entry 持久化的接口解析结果
type Entry struct {
	ChainID  uint64                 `json:"chain_id"`
	Address  models.ResolvedAddress `json:"address"`
	ABI      json.RawMessage        `json:"abi"`
	StoredAt time.Time              `json:"stored_at"`
}

// Stats 存储统计
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Expired uint64 `json:"expired"`
}

// ABIStore 基于BoltDB的接口缓存，按 (链ID, 小写地址) 建键
type ABIStore struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	hits    uint64
	misses  uint64
	expired uint64
}

// NewABIStore 创建接口缓存，ttl为0表示永不过期
func NewABIStore(dbPath string, ttl time.Duration, logger *logrus.Logger) (*ABIStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageFailed, fmt.Errorf("创建数据目录失败: %w", err))
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageFailed, fmt.Errorf("打开缓存数据库失败: %w", err))
	}

	s := &ABIStore{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		ttl:    ttl,
		now:    time.Now,
	}

	if err := s.initDB(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorageFailed, fmt.Errorf("初始化数据库失败: %w", err))
	}

	logger.Infof("接口缓存已初始化，数据库路径: %s", dbPath)
	return s, nil
}

// initDB 初始化数据库结构
func (s *ABIStore) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{ABIBucket, StatsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
}

// Get 读取缓存，过期条目视为未命中并删除
func (s *ABIStore) Get(key string) (*Entry, bool, error) {
	var entry *Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(ABIBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("解析缓存条目失败: %w", err)
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry == nil {
		s.misses++
		return nil, false, nil
	}

	if s.ttl > 0 && s.now().Sub(entry.StoredAt) > s.ttl {
		s.expired++
		s.misses++
		if err := s.deleteLocked(key); err != nil {
			s.logger.Warnf("删除过期缓存 %s 失败: %v", key, err)
		}
		return nil, false, nil
	}

	s.hits++
	return entry, true, nil
}

// Put 写入缓存
func (s *ABIStore) Put(key string, entry *Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = s.now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化缓存条目失败: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ABIBucket)).Put([]byte(key), data)
	})
}

// Delete 删除缓存条目
func (s *ABIStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(key)
}

func (s *ABIStore) deleteLocked(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ABIBucket)).Delete([]byte(key))
	})
}

// PurgeExpired 清理所有过期条目，返回清理数量
func (s *ABIStore) PurgeExpired() (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ABIBucket))
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil || e.StoredAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorageFailed, fmt.Errorf("清理过期缓存失败: %w", err))
	}

	if removed > 0 {
		s.logger.Infof("已清理 %d 条过期接口缓存", removed)
	}
	return removed, nil
}

// GetStats 获取统计信息
func (s *ABIStore) GetStats() (*Stats, error) {
	stats := &Stats{}
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.Entries = tx.Bucket([]byte(ABIBucket)).Stats().KeyN
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	stats.Hits = s.hits
	stats.Misses = s.misses
	stats.Expired = s.expired
	s.mu.Unlock()

	return stats, nil
}

// SaveStats 持久化统计信息
func (s *ABIStore) SaveStats() error {
	stats, err := s.GetStats()
	if err != nil {
		return err
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(StatsBucket))
		if err := bucket.Put([]byte("last_stats"), data); err != nil {
			return err
		}
		ts, _ := json.Marshal(s.now())
		return bucket.Put([]byte("last_saved"), ts)
	})
}

// Close 关闭数据库
func (s *ABIStore) Close() error {
	if err := s.SaveStats(); err != nil {
		s.logger.Warnf("保存缓存统计失败: %v", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("关闭缓存数据库失败: %w", err)
	}
	s.logger.Info("接口缓存已关闭")
	return nil
}
