package models

import "time"

// ShareableLink 可分享的交易参数
type ShareableLink struct {
	ChainID uint64 `json:"chainId"`
	To      string `json:"to"`
	Value   string `json:"value"`
	Data    string `json:"data"`
}

// ShareLinkEvent 分享链接生成事件
type ShareLinkEvent struct {
	Link      ShareableLink `json:"link"`
	URL       string        `json:"url"`
	Function  string        `json:"function,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
