package proxy

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"abiscope/internal/config"
	"abiscope/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 不转发的响应头
var droppedResponseHeaders = map[string]bool{
	"Host":             true,
	"Content-Encoding": true,
	"Content-Length":   true,
}

// ExplorerProxy 区块浏览器API代理，注入服务端持有的API密钥
type ExplorerProxy struct {
	target *url.URL
	apiKey string
	client *http.Client
	logger *logrus.Logger
}

// NewExplorerProxy 创建代理
func NewExplorerProxy(cfg *config.ExplorerConfig, logger *logrus.Logger) (*ExplorerProxy, error) {
	target, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, err
	}
	return &ExplorerProxy{
		target: target,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: config.Duration(cfg.Timeout, 15*time.Second)},
		logger: logger,
	}, nil
}

// Handle 转发请求，原样返回上游状态码与响应体；请求上游失败时返回500
func (p *ExplorerProxy) Handle(c *gin.Context) {
	upstream := *p.target
	query := c.Request.URL.Query()
	if p.apiKey != "" {
		query.Set("apikey", p.apiKey)
	}
	upstream.RawQuery = query.Encode()

	var body io.Reader
	if c.Request.Method == http.MethodPost {
		body = c.Request.Body
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, upstream.String(), body)
	if err != nil {
		p.fail(c, err)
		return
	}
	for name, values := range c.Request.Header {
		if name == "Host" {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	// 压缩交给http.Client处理
	req.Header.Del("Accept-Encoding")

	start := time.Now()
	resp, err := p.client.Do(req)
	metrics.ObserveUpstream("explorer", start)
	if err != nil {
		p.fail(c, err)
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		p.fail(c, err)
		return
	}

	for name, values := range resp.Header {
		if droppedResponseHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}

	metrics.ExplorerProxy(resp.StatusCode)
	c.Status(resp.StatusCode)
	c.Writer.Write(data)
}

func (p *ExplorerProxy) fail(c *gin.Context, err error) {
	p.logger.WithFields(logrus.Fields{
		"component": "explorer_proxy",
		"query":     c.Request.URL.RawQuery,
	}).Errorf("代理请求失败: %v", err)
	metrics.ExplorerProxy(http.StatusInternalServerError)
	c.String(http.StatusInternalServerError, "Internal Server Error")
}
