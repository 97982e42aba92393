package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"abiscope/internal/config"
	"abiscope/pkg/models"

	"github.com/sirupsen/logrus"
)

// 事件类型，同时是Kafka topic映射的键
const (
	KindResolutions = "resolutions"
	KindShareLinks  = "share_links"
)

// Output 事件输出接口
type Output interface {
	PublishResolution(event *models.ResolutionEvent) error
	PublishShareLink(event *models.ShareLinkEvent) error
	Close() error
}

// NewOutput 按配置创建输出器：none、file 或 kafka
func NewOutput(cfg *config.OutputConfig, logger *logrus.Logger) (Output, error) {
	if cfg == nil {
		return NopOutput{}, nil
	}

	switch strings.ToLower(cfg.Format) {
	case "", "none":
		return NopOutput{}, nil
	case "file":
		return NewFileOutput(cfg.Directory, logger)
	case "kafka":
		brokers := []string{"localhost:9092"}
		if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
			brokers = strings.Split(kafkaBrokers, ",")
		}
		var topics map[string]string
		if cfg.Kafka != nil {
			if len(cfg.Kafka.Brokers) > 0 {
				brokers = cfg.Kafka.Brokers
			}
			topics = cfg.Kafka.Topics
		}
		return NewKafkaOutput(brokers, topics, logger)
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", cfg.Format)
	}
}

// NopOutput 丢弃所有事件
type NopOutput struct{}

func (NopOutput) PublishResolution(*models.ResolutionEvent) error { return nil }
func (NopOutput) PublishShareLink(*models.ShareLinkEvent) error { return nil }
func (NopOutput) Close() error { return nil }

// FileOutput 按事件类型写入JSON Lines文件
type FileOutput struct {
	outputDir      string
	logger         *logrus.Logger
	mu             sync.Mutex
	resolutionFile *os.File
	shareLinkFile  *os.File
}

// NewFileOutput 创建文件输出器
func NewFileOutput(outputPath string, logger *logrus.Logger) (*FileOutput, error) {
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	output := &FileOutput{
		outputDir: outputPath,
		logger:    logger,
	}

	timestamp := time.Now().Format("20060102_150405")

	resolutionFile, err := os.Create(filepath.Join(outputPath, fmt.Sprintf("%s_%s.jsonl", KindResolutions, timestamp)))
	if err != nil {
		return nil, fmt.Errorf("创建解析事件文件失败: %w", err)
	}
	output.resolutionFile = resolutionFile

	shareLinkFile, err := os.Create(filepath.Join(outputPath, fmt.Sprintf("%s_%s.jsonl", KindShareLinks, timestamp)))
	if err != nil {
		resolutionFile.Close()
		return nil, fmt.Errorf("创建分享链接事件文件失败: %w", err)
	}
	output.shareLinkFile = shareLinkFile

	logger.Infof("事件文件输出已启用，目录: %s", outputPath)
	return output, nil
}

// PublishResolution 写入解析事件
func (o *FileOutput) PublishResolution(event *models.ResolutionEvent) error {
	if event == nil {
		return nil
	}
	return o.writeLine(o.resolutionFile, event)
}

// PublishShareLink 写入分享链接事件
func (o *FileOutput) PublishShareLink(event *models.ShareLinkEvent) error {
	if event == nil {
		return nil
	}
	return o.writeLine(o.shareLinkFile, event)
}

func (o *FileOutput) writeLine(file *os.File, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("写入事件文件失败: %w", err)
	}

	// 强制刷新到磁盘
	if err := file.Sync(); err != nil {
		return fmt.Errorf("刷新事件文件失败: %w", err)
	}
	return nil
}

// Files 当前使用的文件路径
func (o *FileOutput) Files() []string {
	return []string{o.resolutionFile.Name(), o.shareLinkFile.Name()}
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errors []error
	if o.resolutionFile != nil {
		if err := o.resolutionFile.Close(); err != nil {
			errors = append(errors, fmt.Errorf("关闭解析事件文件失败: %w", err))
		}
	}
	if o.shareLinkFile != nil {
		if err := o.shareLinkFile.Close(); err != nil {
			errors = append(errors, fmt.Errorf("关闭分享链接事件文件失败: %w", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("关闭输出文件时发生错误: %v", errors)
	}
	return nil
}
