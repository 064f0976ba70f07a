package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/multi-agent/wsrpc/internal/protocol"
	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

// MethodQuery 本地数据库查询端点编码。
const MethodQuery uint32 = 40010

// QueryRequest 查询端点请求: 语句文本 + 按位置绑定的参数文本 (NULL 与 \x 十六进制见 stringify)。
type QueryRequest struct {
	Statements string   `json:"statements" validate:"required"`
	Tokens     []string `json:"tokens"`
}

// Payload 单条语句的结果。
type Payload struct {
	Labels []string `json:"labels"`
	Rows   [][]any  `json:"rows"`
}

// QueryResponse 查询端点响应。
type QueryResponse struct {
	Payloads []Payload `json:"payloads"`
}

// ToRows 把所有 payload 的行按列名展开。
func (r QueryResponse) ToRows() Rows {
	var out Rows
	for _, p := range r.Payloads {
		for _, values := range p.Rows {
			row := make(Row, len(p.Labels))
			for i, label := range p.Labels {
				if i < len(values) {
					row[label] = values[i]
				}
			}
			out = append(out, row)
		}
	}
	return out
}

// LocalClient 通过 WebSocket 信封协议访问本地数据库, 连接懒建立并池化复用。
type LocalClient struct {
	url    string
	dialer *websocket.Dialer
	idle   chan *websocket.Conn
	sem    chan struct{}
	seq    atomic.Uint32
	closed atomic.Bool
}

// NewLocalClient 创建连接池 (大小 size) 并建立第一条连接验证可达。
func NewLocalClient(ctx context.Context, addr string, size int) (*LocalClient, error) {
	if size < 1 {
		size = 1
	}
	c := &LocalClient{
		url:    (&url.URL{Scheme: "ws", Host: addr, Path: "/"}).String(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		idle:   make(chan *websocket.Conn, size),
		sem:    make(chan struct{}, size),
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.idle <- conn
	logger.Info("localdb pool created", logger.FieldAddr, addr, "size", size)
	return c, nil
}

func (c *LocalClient) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, pkgerr.Wrapf(err, "Database.LocalClient", "dial %s", c.url)
	}
	return conn, nil
}

// acquire 占用一个池位并取出空闲连接 (没有则新建)。
func (c *LocalClient) acquire(ctx context.Context) (*websocket.Conn, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case conn := <-c.idle:
		return conn, nil
	default:
	}
	conn, err := c.dial(ctx)
	if err != nil {
		<-c.sem
		return nil, err
	}
	return conn, nil
}

// release 归还连接; broken 为 true 时直接关闭。
func (c *LocalClient) release(conn *websocket.Conn, broken bool) {
	defer func() { <-c.sem }()
	if broken || c.closed.Load() {
		_ = conn.Close()
		return
	}
	select {
	case c.idle <- conn:
	default:
		_ = conn.Close()
	}
}

// Query 发送一次查询并等待对应 seq 的终结响应。
func (c *LocalClient) Query(ctx context.Context, stmt string, args ...any) (Rows, error) {
	const op = "Database.LocalClient.Query"
	if c.closed.Load() {
		return nil, pkgerr.Wrap(pkgerr.ErrConnClosed, op, "client closed")
	}
	tokens := make([]string, len(args))
	for i, a := range args {
		tokens[i] = stringify(a)
	}
	params, err := json.Marshal(QueryRequest{Statements: stmt, Tokens: tokens})
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "marshal request")
	}
	seq := c.seq.Add(1)
	frame, err := json.Marshal(protocol.Request{Method: MethodQuery, Seq: seq, Params: params})
	if err != nil {
		return nil, pkgerr.Wrap(err, op, "marshal frame")
	}

	conn, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	deadline, _ := ctx.Deadline() // 零值表示不设超时
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	// ctx 取消时把读写截止时间拨到现在, 唤醒阻塞中的 ReadMessage/WriteMessage
	stop := context.AfterFunc(ctx, func() {
		now := time.Now()
		_ = conn.SetReadDeadline(now)
		_ = conn.SetWriteDeadline(now)
	})
	fail := func(err error, msg string) (Rows, error) {
		stop()
		c.release(conn, true)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(ctxErr, err)
		}
		return nil, pkgerr.Wrap(err, op, msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fail(err, "write")
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fail(err, "read")
		}
		resp, err := protocol.DecodeResponse(data)
		if err != nil {
			return fail(err, "decode")
		}
		if s, ok := resp.Seq(); !ok || s != seq || !resp.Terminal() {
			logger.Debug("localdb: skipping non-terminal frame", logger.FieldSeq, s)
			continue
		}
		// 回调已触发则截止时间已被改写, 连接不再复用
		c.release(conn, !stop())
		return decodeQueryResult(resp)
	}
}

func decodeQueryResult(resp protocol.Response) (Rows, error) {
	switch {
	case resp.Error != nil:
		return nil, &Error{Code: resp.Error.Code.SQLState(), Message: resp.Error.Reason}
	case resp.Immediate != nil:
		var qr QueryResponse
		dec := json.NewDecoder(bytes.NewReader(resp.Immediate.Params))
		dec.UseNumber()
		if err := dec.Decode(&qr); err != nil {
			return nil, pkgerr.Wrap(err, "Database.LocalClient.Query", "decode payloads")
		}
		return qr.ToRows(), nil
	}
	return nil, pkgerr.Newf("Database.LocalClient.Query", "unexpected %s response", resp.Kind())
}

// Close 关闭所有空闲连接; 借出中的连接在归还时关闭。
func (c *LocalClient) Close() {
	if c.closed.Swap(true) {
		return
	}
	for {
		select {
		case conn := <-c.idle:
			_ = conn.Close()
		default:
			return
		}
	}
}

// stringify 把查询参数转为 token 文本; []byte 使用 \x 前缀十六进制。
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case []byte:
		return EncodeBytea(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case fmt.Stringer:
		return t.String()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
