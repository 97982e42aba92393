package connection

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"abiscope/internal/chains"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

// ChainReader 只读RPC能力，工具从不发送交易
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// Client 连接池管理的客户端
type Client interface {
	ChainReader
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// DialFunc 建立到RPC节点的连接
type DialFunc func(ctx context.Context, url string) (Client, error)

// ReaderProvider 按链提供只读客户端
type ReaderProvider interface {
	Reader(ctx context.Context, chainID uint64) (ChainReader, error)
}

// DialEthclient 默认使用go-ethereum ethclient
func DialEthclient(ctx context.Context, url string) (Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ConnectionPool 按链管理RPC连接，首次使用时建立
type ConnectionPool struct {
	registry    *chains.Registry
	nodes       map[uint64]*NodeClient
	dial        DialFunc
	logger      *logrus.Logger
	mu          sync.Mutex
	healthCheck time.Duration
	dialTimeout time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NodeClient 单条链的连接状态
type NodeClient struct {
	chain     *chains.Chain
	client    Client
	mu        sync.Mutex
	isHealthy bool
	lastCheck time.Time
	lastError string
	requests  uint64
}

// NewConnectionPool 创建连接池
func NewConnectionPool(registry *chains.Registry, dial DialFunc, logger *logrus.Logger) *ConnectionPool {
	if dial == nil {
		dial = DialEthclient
	}
	return &ConnectionPool{
		registry:    registry,
		nodes:       make(map[uint64]*NodeClient),
		dial:        dial,
		logger:      logger,
		healthCheck: 30 * time.Second,
		dialTimeout: 10 * time.Second,
		stopCh:      make(chan struct{}),
	}
}

// Reader 获取指定链的只读客户端
func (cp *ConnectionPool) Reader(ctx context.Context, chainID uint64) (ChainReader, error) {
	node, err := cp.node(ctx, chainID)
	if err != nil {
		return nil, err
	}

	node.mu.Lock()
	node.requests++
	node.mu.Unlock()

	return node.client, nil
}

// node 获取或建立链连接
func (cp *ConnectionPool) node(ctx context.Context, chainID uint64) (*NodeClient, error) {
	chain, err := cp.registry.Resolve(chainID)
	if err != nil {
		return nil, err
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if node, exists := cp.nodes[chainID]; exists {
		return node, nil
	}

	if chain.RPCURL == "" {
		return nil, fmt.Errorf("链 %d 未配置RPC地址", chainID)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cp.dialTimeout)
	defer cancel()

	client, err := cp.dial(dialCtx, chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接链 %d 节点失败: %w", chainID, err)
	}

	node := &NodeClient{
		chain:     chain,
		client:    client,
		isHealthy: true,
		lastCheck: time.Now(),
	}
	cp.nodes[chainID] = node
	cp.logger.Infof("链 %s(%d) 连接已建立", chain.Name, chainID)

	return node, nil
}

// StartHealthCheck 启动后台健康检查
func (cp *ConnectionPool) StartHealthCheck() {
	go cp.healthChecker()
}

// healthChecker 健康检查器
func (cp *ConnectionPool) healthChecker() {
	ticker := time.NewTicker(cp.healthCheck)
	defer ticker.Stop()

	for {
		select {
		case <-cp.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			cp.CheckAll(ctx)
			cancel()
		}
	}
}

// CheckAll 并发检查所有已建立的连接
func (cp *ConnectionPool) CheckAll(ctx context.Context) {
	cp.mu.Lock()
	nodes := make([]*NodeClient, 0, len(cp.nodes))
	for _, node := range cp.nodes {
		nodes = append(nodes, node)
	}
	cp.mu.Unlock()

	var wg conc.WaitGroup
	for _, node := range nodes {
		node := node
		wg.Go(func() {
			if node.check(ctx) {
				cp.logger.Debugf("链 %d 健康检查通过", node.chain.ID)
			} else {
				cp.logger.Warnf("链 %d 健康检查失败: %s", node.chain.ID, node.lastErrorString())
			}
		})
	}
	wg.Wait()
}

// check 检查链ID是否与配置一致
func (nc *NodeClient) check(ctx context.Context) bool {
	id, err := nc.client.ChainID(ctx)

	nc.mu.Lock()
	defer nc.mu.Unlock()

	nc.lastCheck = time.Now()
	switch {
	case err != nil:
		nc.isHealthy = false
		nc.lastError = err.Error()
	case !id.IsUint64() || id.Uint64() != nc.chain.ID:
		nc.isHealthy = false
		nc.lastError = fmt.Sprintf("节点返回链ID %s，期望 %d", id.String(), nc.chain.ID)
	default:
		nc.isHealthy = true
		nc.lastError = ""
	}
	return nc.isHealthy
}

func (nc *NodeClient) lastErrorString() string {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.lastError
}

// NodeStats 连接统计
type NodeStats struct {
	ChainID   uint64 `json:"chain_id"`
	Name      string `json:"name"`
	IsHealthy bool   `json:"is_healthy"`
	LastCheck string `json:"last_check"`
	LastError string `json:"last_error,omitempty"`
	Requests  uint64 `json:"requests"`
}

// GetStats 获取连接池统计信息，按注册表顺序
func (cp *ConnectionPool) GetStats() []NodeStats {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	var stats []NodeStats
	for _, chainID := range cp.registry.IDs() {
		node, exists := cp.nodes[chainID]
		if !exists {
			continue
		}
		node.mu.Lock()
		stats = append(stats, NodeStats{
			ChainID:   chainID,
			Name:      node.chain.Name,
			IsHealthy: node.isHealthy,
			LastCheck: node.lastCheck.Format(time.RFC3339),
			LastError: node.lastError,
			Requests:  node.requests,
		})
		node.mu.Unlock()
	}
	return stats
}

// Close 关闭连接池
func (cp *ConnectionPool) Close() error {
	cp.stopOnce.Do(func() { close(cp.stopCh) })

	cp.mu.Lock()
	defer cp.mu.Unlock()

	for chainID, node := range cp.nodes {
		node.client.Close()
		delete(cp.nodes, chainID)
	}

	cp.logger.Info("连接池已关闭")
	return nil
}
