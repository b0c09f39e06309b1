package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// DeliverPath 入站投递路径
const DeliverPath = "/v1/deliver"

// maxFrameSize 单个信封的最大字节数
const maxFrameSize = 16 << 20

// QUICTransport 基于 HTTP/3 的 Transport
//
// 服务端使用 http3.Server 监听 UDP，客户端使用 resty + http3.Transport。
// 对端返回 202 表示消息已入队。
type QUICTransport struct {
	serverTLS *tls.Config
	clientTLS *tls.Config
	codec     Codec
	timeout   time.Duration
	logger    *slog.Logger

	addr    string
	pc      net.PacketConn
	server  *http3.Server
	h3      *http3.Transport
	client  *resty.Client
	handler Handler
	stopped atomic.Bool
}

// QUICOption QUICTransport 配置选项
type QUICOption func(*QUICTransport)

// WithCodec 设置编解码器
func WithCodec(c Codec) QUICOption {
	return func(t *QUICTransport) { t.codec = c }
}

// WithSendTimeout 设置单次投递超时
func WithSendTimeout(d time.Duration) QUICOption {
	return func(t *QUICTransport) { t.timeout = d }
}

// WithLogger 设置日志器
func WithLogger(l *slog.Logger) QUICOption {
	return func(t *QUICTransport) { t.logger = l }
}

// NewQUICTransport 创建 HTTP/3 Transport
func NewQUICTransport(serverTLS, clientTLS *tls.Config, opts ...QUICOption) *QUICTransport {
	t := &QUICTransport{
		serverTLS: serverTLS,
		clientTLS: clientTLS,
		codec:     JSONCodec{},
		timeout:   10 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// QUICFactory 返回在 host 上随机端口监听的 QUICTransport 工厂
func QUICFactory(host string, serverTLS, clientTLS *tls.Config, opts ...QUICOption) Factory {
	return func() Transport {
		return &boundQUIC{
			QUICTransport: NewQUICTransport(serverTLS, clientTLS, opts...),
			host:          host,
		}
	}
}

// boundQUIC 空地址时监听 host:0
type boundQUIC struct {
	*QUICTransport
	host string
}

func (b *boundQUIC) Start(addr string, h Handler) error {
	if addr == "" {
		addr = net.JoinHostPort(b.host, "0")
	}
	return b.QUICTransport.Start(addr, h)
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// Start 实现 Transport 接口
func (t *QUICTransport) Start(addr string, h Handler) error {
	if h == nil {
		return fmt.Errorf("quic transport: nil handler")
	}
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("quic transport: listen %s: %w", addr, err)
	}
	t.pc = pc
	t.addr = pc.LocalAddr().String()
	t.handler = h

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+DeliverPath, t.serveDeliver)
	t.server = &http3.Server{
		Handler:    mux,
		TLSConfig:  t.serverTLS,
		QUICConfig: quicConfig(),
	}

	t.h3 = &http3.Transport{
		TLSClientConfig: t.clientTLS,
		QUICConfig:      quicConfig(),
	}
	t.client = resty.New().
		SetTransport(t.h3).
		SetTimeout(t.timeout)

	go func() {
		if err := t.server.Serve(pc); err != nil && !t.stopped.Load() {
			t.logger.Error("quic transport serve failed", "addr", t.addr, "error", err)
		}
	}()

	t.logger.Debug("quic transport listening", "addr", t.addr)
	return nil
}

// Address 实现 Transport 接口
func (t *QUICTransport) Address() string { return t.addr }

// Send 实现 Transport 接口
func (t *QUICTransport) Send(ctx context.Context, to string, env *Envelope) error {
	if t.stopped.Load() {
		return &SendError{To: to, Err: ErrStopped}
	}
	if t.client == nil {
		return &SendError{To: to, Err: fmt.Errorf("quic transport not started")}
	}

	wire, err := env.Encode(t.codec)
	if err != nil {
		return &SendError{To: to, Err: err}
	}
	payload, err := t.codec.Marshal(wire)
	if err != nil {
		return &SendError{To: to, Err: fmt.Errorf("encode envelope: %w", err)}
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", t.codec.ContentType()).
		SetBody(payload).
		Post("https://" + to + DeliverPath)
	if err != nil {
		return &SendError{To: to, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
	}
	if resp.StatusCode() != http.StatusAccepted {
		return &SendError{
			To:     to,
			Status: resp.StatusCode(),
			Err:    fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(resp.String())),
		}
	}
	return nil
}

// serveDeliver 处理入站投递
func (t *QUICTransport) serveDeliver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var env Envelope
	if err := t.codec.Unmarshal(body, &env); err != nil {
		http.Error(w, fmt.Sprintf("decode envelope: %v", err), http.StatusBadRequest)
		return
	}
	if err := CheckVersion(env.Version); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := t.handler(r.Context(), &env); err != nil {
		t.logger.Debug("inbound delivery rejected", "dest", env.Dest, "kind", env.Kind, "error", err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Stop 实现 Transport 接口
func (t *QUICTransport) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if t.server != nil {
		errs = append(errs, t.server.Close())
	}
	if t.h3 != nil {
		errs = append(errs, t.h3.Close())
	}
	if t.pc != nil {
		if err := t.pc.Close(); !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
