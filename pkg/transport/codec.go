package transport

import "encoding/json"

// Codec 消息编解码接口
type Codec interface {
	// ContentType 返回 HTTP Content-Type
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec JSON 编解码
type JSONCodec struct{}

// ContentType 实现 Codec 接口
func (JSONCodec) ContentType() string { return "application/json" }

// Marshal 实现 Codec 接口
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal 实现 Codec 接口
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
