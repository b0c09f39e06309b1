// Package config 加载运行时策略与 mesh 配置
//
// 配置按优先级从低到高合并：内置默认值、配置文件（YAML 或 JSON）。
// 键名使用 koanf 标签，以 "." 分隔层级:
//
//	policy:
//	  max_queue_depth: 1024
//	  call_timeout: 5s
//	  partial_failure_policy: per_target
//	mesh:
//	  dims: host=2,gpu=4
//	  transport: quic
//	  listen_host: 127.0.0.1
//	log:
//	  level: debug
//	  format: json
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/actor"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/region"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/transport"
)

const (
	// TransportLocal 进程内传输
	TransportLocal = "local"
	// TransportQUIC HTTP/3 over QUIC 传输
	TransportQUIC = "quic"
)

// Config 完整配置
type Config struct {
	Policy actor.Policy `koanf:"policy" json:"policy"`
	Mesh   Mesh         `koanf:"mesh" json:"mesh"`
	Log    Log          `koanf:"log" json:"log"`
}

// Mesh ProcMesh 形状与传输
type Mesh struct {
	// Dims 形如 host=2,gpu=4
	Dims string `koanf:"dims" json:"dims"`
	// Transport local 或 quic
	Transport string `koanf:"transport" json:"transport"`
	// ListenHost QUIC 监听地址
	ListenHost string `koanf:"listen_host" json:"listen_host"`
}

// Log 日志设置
type Log struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format"`
}

// Default 默认配置
func Default() Config {
	return Config{
		Policy: actor.DefaultPolicy(),
		Mesh: Mesh{
			Dims:       "gpu=4",
			Transport:  TransportLocal,
			ListenHost: "127.0.0.1",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 加载
// ═══════════════════════════════════════════════════════════════════════════

func defaults() (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	return k, nil
}

// parserFor 按扩展名选择解析器，未知扩展名按 YAML 处理
func parserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Parser()
	}
	return yaml.Parser()
}

// Load 读取配置文件并与默认值合并；path 为空时只返回默认值
func Load(path string) (*Config, error) {
	k, err := defaults()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return unmarshal(k)
}

// LoadBytes 从内存数据加载，format 为 yaml 或 json
func LoadBytes(data []byte, format string) (*Config, error) {
	var p koanf.Parser
	switch strings.ToLower(format) {
	case "yaml", "yml":
		p = yaml.Parser()
	case "json":
		p = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	k, err := defaults()
	if err != nil {
		return nil, err
	}
	if err := k.Load(rawbytes.Provider(data), p); err != nil {
		return nil, fmt.Errorf("load config bytes: %w", err)
	}
	return unmarshal(k)
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 校验与派生
// ═══════════════════════════════════════════════════════════════════════════

// Validate 校验配置
func (c *Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, err := c.Extent(); err != nil {
		return err
	}
	switch c.Mesh.Transport {
	case TransportLocal, TransportQUIC:
	default:
		return fmt.Errorf("mesh.transport: unknown transport %q", c.Mesh.Transport)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// Extent 解析 mesh.dims
func (c *Config) Extent() (region.Extent, error) {
	e, err := region.ParseExtent(c.Mesh.Dims)
	if err != nil {
		return region.Extent{}, fmt.Errorf("mesh.dims: %w", err)
	}
	return e, nil
}

// TransportFactory 按 mesh.transport 构造传输工厂
//
// quic 使用进程内生成的自签名证书，只适合单机多进程或测试。
func (c *Config) TransportFactory() (transport.Factory, error) {
	switch c.Mesh.Transport {
	case TransportLocal:
		return transport.NewLocalNetwork().Factory(), nil
	case TransportQUIC:
		serverTLS, clientTLS, err := transport.NewDevTLS(c.Mesh.ListenHost)
		if err != nil {
			return nil, fmt.Errorf("dev tls: %w", err)
		}
		return transport.QUICFactory(c.Mesh.ListenHost, serverTLS, clientTLS), nil
	default:
		return nil, fmt.Errorf("mesh.transport: unknown transport %q", c.Mesh.Transport)
	}
}
