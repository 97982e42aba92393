package sourcify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"abiscope/internal/config"
	apperrors "abiscope/internal/errors"
	"abiscope/pkg/models"

	"github.com/sirupsen/logrus"
)

// File 元数据服务返回的源文件
type File struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FilesResponse /files/any 接口响应
type FilesResponse struct {
	Status string `json:"status"`
	Files  []File `json:"files"`
}

// Find 按文件名查找
func (r *FilesResponse) Find(name string) (*File, bool) {
	for i := range r.Files {
		if r.Files[i].Name == name {
			return &r.Files[i], true
		}
	}
	return nil, false
}

// Client Sourcify HTTP客户端
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

// NewClient 创建客户端
func NewClient(cfg *config.SourcifyConfig, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		client:  &http.Client{Timeout: config.Duration(cfg.Timeout, 15*time.Second)},
		logger:  logger,
	}
}

// Files 获取已验证合约的全部文件；非2xx响应视为未验证，不重试
func (c *Client) Files(ctx context.Context, chainID uint64, address string) (*FilesResponse, error) {
	endpoint := fmt.Sprintf("%s/files/any/%d/%s", c.baseURL, chainID, address)

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WithFields(logrus.Fields{
			"chain_id": chainID,
			"address":  address,
			"status":   resp.StatusCode,
		}).Debug("合约未在Sourcify上验证")
		return nil, apperrors.New(apperrors.ErrContractNotFound).
			WithChainID(chainID).
			WithAddress(address).
			WithContext("status", resp.StatusCode)
	}

	var files FilesResponse
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMetadataUnreadable, err).
			WithChainID(chainID).
			WithAddress(address)
	}
	return &files, nil
}

// CheckAllByAddresses 查询地址在各链上的验证情况
func (c *Client) CheckAllByAddresses(ctx context.Context, addresses []string, chainIDs []uint64) ([]models.Verification, error) {
	ids := make([]string, len(chainIDs))
	for i, id := range chainIDs {
		ids[i] = strconv.FormatUint(id, 10)
	}

	query := url.Values{}
	query.Set("addresses", strings.Join(addresses, ","))
	query.Set("chainIds", strings.Join(ids, ","))
	endpoint := c.baseURL + "/check-all-by-addresses?" + query.Encode()

	var verifications []models.Verification
	if err := c.getJSON(ctx, endpoint, &verifications); err != nil {
		return nil, err
	}
	return verifications, nil
}

// getJSON 非200响应与无法解析的响应都视为服务失败
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.New(apperrors.ErrUpstreamFailed).
			WithComponent("sourcify").
			WithContext("status", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrUpstreamFailed, err).WithComponent("sourcify")
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.Wrap(apperrors.ErrUpstreamFailed, err).WithComponent("sourcify")
	}
	return resp, nil
}
