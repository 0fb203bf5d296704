package config

import (
	"os"
	"strings"
)

// Environment overrides, applied after the file is decoded.
const (
	EnvTelegramToken = "FUNBOT_TELEGRAM_TOKEN"
	EnvContentDBPath = "FUN_CONTENT_DB_PATH"
	EnvLogLevel      = "FUNBOT_LOG_LEVEL"
)

// Categories served by the bot out of the box.
var DefaultCategories = []string{
	"hitokoto", "twq", "dog", "renjian", "weibo_hot", "douyin_hot",
	"aiqinggongyu", "beauty_pic", "cp", "shenhuifu", "joke",
}

// DefaultLocalCategories are the categories backed by the content database.
var DefaultLocalCategories = []string{
	"hitokoto", "twq", "dog", "aiqinggongyu", "renjian",
	"shenhuifu", "joke", "beauty_pic",
}

func defaultProviders() map[string]ProviderList {
	return map[string]ProviderList{
		"weibo_hot":  {{URL: "https://v2.api-m.com/api/weibohot", Shape: "ranked"}},
		"douyin_hot": {{URL: "https://api.vvhan.com/api/hotlist/douyinHot", Shape: "ranked"}},
		"cp":         {{URL: "https://www.hhlqilongzhu.cn/api/tu_lofter_cp.php", Shape: "image_bytes"}},
	}
}

func defaultLabels() map[string]string {
	return map[string]string{
		"hitokoto":     "一言",
		"twq":          "土味情话",
		"dog":          "舔狗日记",
		"renjian":      "人间凑数",
		"weibo_hot":    "微博热搜",
		"douyin_hot":   "抖音热搜",
		"aiqinggongyu": "爱情公寓",
		"beauty_pic":   "美女图片",
		"cp":           "CP文",
		"shenhuifu":    "神回复",
		"joke":         "笑话",
	}
}

// applyDefaults fills omitted fields. Explicit values are kept.
func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if c.Storage == nil {
		c.Storage = &StorageConfig{Driver: "file", Dir: "./data"}
	}

	ct := &c.Content
	if strings.TrimSpace(ct.RequestTimeout) == "" {
		ct.RequestTimeout = "10s"
	}
	if ct.Providers == nil {
		ct.Providers = defaultProviders()
	}
	labels := defaultLabels()
	for k, v := range ct.Labels {
		labels[k] = v
	}
	ct.Labels = labels
	if strings.TrimSpace(ct.Local.DBPath) == "" {
		ct.Local.DBPath = "./data/fun_content.db"
	}
	if ct.Local.Categories == nil {
		ct.Local.Categories = append([]string(nil), DefaultLocalCategories...)
	}

	if strings.TrimSpace(c.Cooldowns.Default) == "" {
		c.Cooldowns.Default = "20s"
	}
	if strings.TrimSpace(c.Scheduler.Timeout) == "" {
		c.Scheduler.Timeout = "2m"
	}
	if c.Commands.ScheduledParams == nil {
		c.Commands.ScheduledParams = map[string]map[string]string{
			"cp": {"n1": "A", "n2": "B"},
		}
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Path) == "" {
		c.Metrics.Path = "/metrics"
	}
}

// applyEnv overrides secrets and deployment paths from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvContentDBPath)); v != "" {
		c.Content.Local.DBPath = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.Logging.Level = v
	}
}
