// client.go — RPC 客户端: 以位置参数头握手, 按 seq 关联请求与终结响应。
package rpc

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/wsrpc/internal/protocol"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

// ClientOption 拨号选项。
type ClientOption func(*websocket.Dialer)

// WithTLSConfig 指定 wss:// 的 TLS 配置。
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(d *websocket.Dialer) { d.TLSClientConfig = cfg }
}

// WithHandshakeTimeout 握手超时。
func WithHandshakeTimeout(timeout time.Duration) ClientOption {
	return func(d *websocket.Dialer) { d.HandshakeTimeout = timeout }
}

// Client 单连接客户端。Send 可并发调用; Recv/Request 同一时刻只应有一个读者。
type Client struct {
	ws   *websocket.Conn
	seq  atomic.Uint32
	wrMu sync.Mutex
	rdMu sync.Mutex

	// Protocol 服务器回显的子协议
	Protocol string
}

// Dial 连接服务器; header 原样放入 Sec-WebSocket-Protocol, 为空时不发送。
func Dial(ctx context.Context, url, header string, opts ...ClientOption) (*Client, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	for _, opt := range opts {
		opt(dialer)
	}
	var reqHeader http.Header
	if header != "" {
		reqHeader = http.Header{"Sec-WebSocket-Protocol": {header}}
	}
	ws, resp, err := dialer.DialContext(ctx, url, reqHeader)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{ws: ws, Protocol: ws.Subprotocol()}, nil
}

// Send 发送一条请求, 返回分配的 seq。
func (c *Client) Send(method uint32, params any) (uint32, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("encode params: %w", err)
	}
	seq := c.seq.Add(1)
	data, err := json.Marshal(protocol.Request{Method: method, Seq: seq, Params: raw})
	if err != nil {
		return 0, err
	}
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return 0, err
	}
	return seq, nil
}

// Recv 读取下一条响应; ctx 的截止时间作为读超时。
func (c *Client) Recv(ctx context.Context) (protocol.Response, error) {
	c.rdMu.Lock()
	defer c.rdMu.Unlock()
	deadline, _ := ctx.Deadline()
	_ = c.ws.SetReadDeadline(deadline)
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.DecodeResponse(data)
}

// Request 发送请求并等待 seq 匹配的终结响应。
//
// Immediate 的 params 解码到 out (可为 nil); Error 转换为 *CustomError;
// 期间收到的 Log 响应按其级别写入本地日志, 其他 seq 的响应被跳过。
func (c *Client) Request(ctx context.Context, method uint32, params, out any) error {
	seq, err := c.Send(method, params)
	if err != nil {
		return err
	}
	for {
		resp, err := c.Recv(ctx)
		if err != nil {
			return err
		}
		if resp.Log != nil {
			logRemote(resp.Log)
			continue
		}
		if got, ok := resp.Seq(); !ok || got != seq || !resp.Terminal() {
			logger.Debug("rpc client: skipping response", logger.FieldSeq, seq, "kind", resp.Kind())
			continue
		}
		switch {
		case resp.Immediate != nil:
			if out == nil {
				return nil
			}
			return json.Unmarshal(resp.Immediate.Params, out)
		case resp.Error != nil:
			return &CustomError{Code: resp.Error.Code, Reason: resp.Error.Reason}
		default:
			return nil
		}
	}
}

func logRemote(l *protocol.LogResponse) {
	level, ok := l.Level.Slog()
	if !ok {
		return
	}
	logger.Get().Log(context.Background(), level, l.Message,
		logger.FieldSeq, l.Seq, logger.FieldLogID, l.LogID)
}

// Close 发送 close 帧并关闭连接。
func (c *Client) Close() error {
	c.wrMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wrMu.Unlock()
	return c.ws.Close()
}
