package config

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// NewDatabaseConfigFromDB 使用已打开的连接创建配置管理器
func NewDatabaseConfigFromDB(db *sql.DB, logger *logrus.Logger) *DatabaseConfig {
	return &DatabaseConfig{DB: db, logger: logger}
}

// LoadChains 加载启用的链配置，按position排序
func (dc *DatabaseConfig) LoadChains() ([]*ChainConfig, error) {
	query := `SELECT chain_id, name, rpc_url, explorer_url, blockscout_url, verification
		FROM chains WHERE is_active = true ORDER BY position`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chains []*ChainConfig
	for rows.Next() {
		var chain ChainConfig
		var explorerURL, blockscoutURL sql.NullString
		err := rows.Scan(&chain.ID, &chain.Name, &chain.RPCURL, &explorerURL, &blockscoutURL, &chain.Verification)
		if err != nil {
			return nil, err
		}
		chain.ExplorerURL = explorerURL.String
		chain.BlockscoutURL = blockscoutURL.String
		chains = append(chains, &chain)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dc.logger.Debugf("从数据库读取到 %d 条链配置", len(chains))
	return chains, nil
}

// UpsertChain 新增或更新链配置
func (dc *DatabaseConfig) UpsertChain(chain *ChainConfig, position int) error {
	query := `
		INSERT INTO chains (chain_id, name, rpc_url, explorer_url, blockscout_url, verification, position, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, CURRENT_TIMESTAMP)
		ON CONFLICT (chain_id)
		DO UPDATE SET name = $2, rpc_url = $3, explorer_url = $4, blockscout_url = $5,
			verification = $6, position = $7, is_active = true, updated_at = CURRENT_TIMESTAMP
	`

	_, err := dc.DB.Exec(query, chain.ID, chain.Name, chain.RPCURL, chain.ExplorerURL, chain.BlockscoutURL, chain.Verification, position)
	return err
}

// DisableChain 停用链
func (dc *DatabaseConfig) DisableChain(chainID uint64) error {
	result, err := dc.DB.Exec(`UPDATE chains SET is_active = false, updated_at = CURRENT_TIMESTAMP WHERE chain_id = $1`, chainID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("链 %d 不存在", chainID)
	}
	return nil
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
