package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "abiscope/internal/errors"
	"abiscope/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *ABIStore {
	t.Helper()
	s, err := NewABIStore(filepath.Join(t.TempDir(), "abis.db"), ttl, logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEntry() *Entry {
	return &Entry{
		ChainID: 8453,
		Address: models.ResolvedAddress{
			Requested: "0xproxy",
			Effective: "0ximpl",
			Strategy:  models.ProxyStrategyEIP1967Slot,
		},
		ABI: json.RawMessage(`[{"type":"function","name":"foo","inputs":[],"outputs":[]}]`),
	}
}

func TestABIStore_PutGet(t *testing.T) {
	s := newTestStore(t, time.Hour)

	_, found, err := s.Get("8453:0xproxy")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Put("8453:0xproxy", sampleEntry()))

	got, found, err := s.Get("8453:0xproxy")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "0ximpl", got.Address.Effective)
	assert.JSONEq(t, string(sampleEntry().ABI), string(got.ABI))

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestABIStore_Expiry(t *testing.T) {
	s := newTestStore(t, time.Hour)
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put("1:0xa", sampleEntry()))
	require.NoError(t, s.Put("1:0xb", &Entry{ChainID: 1, StoredAt: now.Add(-2 * time.Hour)}))

	_, found, err := s.Get("1:0xb")
	require.NoError(t, err)
	assert.False(t, found)

	s.now = func() time.Time { return now.Add(90 * time.Minute) }
	removed, err := s.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, uint64(1), stats.Expired)
}

func TestABIStore_Delete(t *testing.T) {
	s := newTestStore(t, 0)

	require.NoError(t, s.Put("10:0xa", sampleEntry()))
	require.NoError(t, s.Delete("10:0xa"))

	_, found, err := s.Get("10:0xa")
	require.NoError(t, err)
	assert.False(t, found)

	removed, err := s.PurgeExpired()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestNewABIStore_OpenFailure(t *testing.T) {
	// 父路径是普通文件，无法创建数据目录
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := NewABIStore(filepath.Join(blocker, "sub", "abis.db"), 0, logrus.New())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStorage))
}
