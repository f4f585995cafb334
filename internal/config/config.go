package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr            string `yaml:"Addr"`            // 监听地址，如 ":8080"
	Path            string `yaml:"Path"`            // WebSocket 路径
	MaxPayloadBytes int    `yaml:"MaxPayloadBytes"` // 单条入站消息最大字节数，0 表示不限制

	WriteTimeoutSeconds int `yaml:"WriteTimeoutSeconds"` // 单条出站消息写超时
}

type Log struct {
	Level string `yaml:"Level"` // debug / info / warn / error
	Dir   string `yaml:"Dir"`
	File  string `yaml:"File"`
}

type Sock5Proxy struct {
	Host   string `yaml:"Host"`
	Port   int32  `yaml:"Port"`
	Enable bool   `yaml:"Enable"`
}

type Kaltura struct {
	ServiceURL     string   `yaml:"ServiceURL"`
	MaxRetries     int      `yaml:"MaxRetries"`     // 总尝试次数（含最后一次不受保护的尝试）
	Delay          float64  `yaml:"Delay"`          // 首次重试间隔（秒）
	Backoff        float64  `yaml:"Backoff"`        // 每次重试间隔的乘数
	NonRetryable   []string `yaml:"NonRetryable"`   // 不可重试的错误码
	TimeoutSeconds int      `yaml:"TimeoutSeconds"` // 单次 HTTP 请求超时
	SearchPageSize int      `yaml:"SearchPageSize"` // get_videos 返回的视频数量
}

type LLM struct {
	BaseURL        string `yaml:"BaseURL"` // 兼容 OpenAI API 的端点
	APIKey         string `yaml:"APIKey"`
	Model          string `yaml:"Model"`
	MaxTokens      int    `yaml:"MaxTokens"`      // 单次输出最大 token 数
	TimeoutSeconds int    `yaml:"TimeoutSeconds"` // 单次调用超时
}

type Segmenter struct {
	MaxChars int `yaml:"MaxChars"` // 单个片段序列化后的目标上限
	Overlap  int `yaml:"Overlap"`  // 相邻片段之间保留的上下文字符数
}

type Analysis struct {
	ChunkConcurrency int `yaml:"ChunkConcurrency"` // 单个视频内并发分析的片段数，1 表示顺序执行
}

type Cache struct {
	TranscriptTTL int `yaml:"TranscriptTTL"` // 字幕缓存有效期（秒），0 表示不缓存
}

type Housekeeping struct {
	Cron string `yaml:"Cron"` // cron 表达式，如 "@every 5m"
}

type Config struct {
	Server       Server       `yaml:"Server"`
	Log          Log          `yaml:"Log"`
	Sock5Proxy   Sock5Proxy   `yaml:"Sock5Proxy"`
	Kaltura      Kaltura      `yaml:"Kaltura"`
	LLM          LLM          `yaml:"LLM"`
	Segmenter    Segmenter    `yaml:"Segmenter"`
	Analysis     Analysis     `yaml:"Analysis"`
	Cache        Cache        `yaml:"Cache"`
	Housekeeping Housekeeping `yaml:"Housekeeping"`
}

func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析 YAML 配置，补齐默认值后校验
func Parse(data []byte) (*Config, error) {
	c := presets()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// presets 零值有意义的字段（如 Overlap: 0 表示不重叠）在解析前预置默认值，
// 配置文件中显式写出的值会覆盖它们
func presets() Config {
	var c Config
	c.Server.MaxPayloadBytes = 32 << 20
	c.Kaltura.Delay = 1
	c.Segmenter.Overlap = 10000
	return c
}

// ApplyDefaults 为零值无效的字段填充默认值
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Path == "" {
		c.Server.Path = "/ws"
	}
	if c.Server.WriteTimeoutSeconds == 0 {
		c.Server.WriteTimeoutSeconds = 10
	}

	if c.Log.Level == "" {
		c.Log.Level = "debug"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Log.File == "" {
		c.Log.File = "video-exploratorium.log"
	}

	if c.Kaltura.ServiceURL == "" {
		c.Kaltura.ServiceURL = "https://cdnapi-ev.kaltura.com/"
	}
	if c.Kaltura.MaxRetries == 0 {
		c.Kaltura.MaxRetries = 3
	}
	if c.Kaltura.Backoff == 0 {
		c.Kaltura.Backoff = 2
	}
	if c.Kaltura.NonRetryable == nil {
		c.Kaltura.NonRetryable = []string{"INVALID_KS"}
	}
	if c.Kaltura.TimeoutSeconds == 0 {
		c.Kaltura.TimeoutSeconds = 30
	}
	if c.Kaltura.SearchPageSize == 0 {
		c.Kaltura.SearchPageSize = 6
	}

	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 300
	}

	if c.Segmenter.MaxChars == 0 {
		c.Segmenter.MaxChars = 150000
	}

	if c.Analysis.ChunkConcurrency == 0 {
		c.Analysis.ChunkConcurrency = 1
	}

	if c.Housekeeping.Cron == "" {
		c.Housekeeping.Cron = "@every 5m"
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.Server.MaxPayloadBytes < 0 {
		return fmt.Errorf("Server.MaxPayloadBytes 必须 >= 0")
	}
	if c.Server.WriteTimeoutSeconds < 0 {
		return fmt.Errorf("Server.WriteTimeoutSeconds 必须 >= 0")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("Log.Level 必须是 'debug', 'info', 'warn' 或 'error'")
	}

	if c.Kaltura.MaxRetries < 1 {
		return fmt.Errorf("Kaltura.MaxRetries 必须 >= 1")
	}
	if c.Kaltura.Delay < 0 {
		return fmt.Errorf("Kaltura.Delay 必须 >= 0")
	}
	if c.Kaltura.Backoff < 1 {
		return fmt.Errorf("Kaltura.Backoff 必须 >= 1")
	}
	if c.Kaltura.TimeoutSeconds < 0 {
		return fmt.Errorf("Kaltura.TimeoutSeconds 必须 >= 0")
	}
	if c.Kaltura.SearchPageSize < 1 {
		return fmt.Errorf("Kaltura.SearchPageSize 必须 >= 1")
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM.APIKey 不能为空")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM.BaseURL 不能为空")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM.Model 不能为空")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM.MaxTokens 必须大于 0")
	}
	if c.LLM.TimeoutSeconds < 0 {
		return fmt.Errorf("LLM.TimeoutSeconds 必须 >= 0")
	}

	if c.Segmenter.MaxChars <= 0 {
		return fmt.Errorf("Segmenter.MaxChars 必须大于 0")
	}
	if c.Segmenter.Overlap < 0 {
		return fmt.Errorf("Segmenter.Overlap 必须 >= 0")
	}
	if c.Segmenter.Overlap >= c.Segmenter.MaxChars {
		return fmt.Errorf("Segmenter.Overlap 必须小于 Segmenter.MaxChars")
	}

	if c.Analysis.ChunkConcurrency < 1 {
		return fmt.Errorf("Analysis.ChunkConcurrency 必须 >= 1")
	}
	if c.Cache.TranscriptTTL < 0 {
		return fmt.Errorf("Cache.TranscriptTTL 必须 >= 0")
	}
	return nil
}

// WriteTimeout 单条出站消息写超时
func (s *Server) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

// RetryDelay 首次重试间隔
func (k *Kaltura) RetryDelay() time.Duration {
	return time.Duration(k.Delay * float64(time.Second))
}
