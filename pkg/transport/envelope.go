package transport

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ProtocolVersion 当前信封协议版本
const ProtocolVersion = "1.0.0"

// compatible 可接受的对端协议版本
var compatible = mustConstraint("^1.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// CheckVersion 检查入站信封的协议版本是否兼容
func CheckVersion(v string) error {
	if v == "" {
		return fmt.Errorf("%w: missing protocol version", ErrRejected)
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: bad protocol version %q: %v", ErrRejected, v, err)
	}
	if !compatible.Check(ver) {
		return fmt.Errorf("%w: protocol version %s incompatible with %s", ErrRejected, v, ProtocolVersion)
	}
	return nil
}

// Envelope 传输信封
//
// Value 是进程内投递的快速通道，不参与序列化；
// 跨进程时发送方把 Value 编码进 Body，接收方从 Body 解码。
type Envelope struct {
	Version string `json:"version"`
	// Kind 消息类型，用于接收方查找解码工厂
	Kind string `json:"kind"`
	// Sender 发送者 ActorID 的文本形式
	Sender string `json:"sender,omitempty"`
	// Dest 目标 Proc 内的 mailbox 名称
	Dest string `json:"dest"`
	// Port 非零时表示这是一条回复端口帧
	Port uint64 `json:"port,omitempty"`
	// Seq 发送方 mailbox 内的序号
	Seq  uint64          `json:"seq"`
	Body json.RawMessage `json:"body,omitempty"`

	Value any `json:"-"`
}

// IsReply 是否为回复端口帧
func (e *Envelope) IsReply() bool { return e.Port != 0 }

// Encode 确保 Body 已按 codec 编码，返回可序列化的副本
func (e *Envelope) Encode(c Codec) (*Envelope, error) {
	wire := *e
	wire.Value = nil
	if wire.Version == "" {
		wire.Version = ProtocolVersion
	}
	if wire.Body == nil && e.Value != nil {
		b, err := c.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", e.Kind, err)
		}
		wire.Body = b
	}
	return &wire, nil
}
