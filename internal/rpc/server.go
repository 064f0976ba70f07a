// server.go — WebSocket RPC 服务器: 升级 + 握手认证、每连接接收循环、全局发送循环。
//
// 拓扑:
//
//	accept → upgrade (捕获 Sec-WebSocket-Protocol) → AuthController.Auth
//	       → 注册 connEntry → readLoop (每连接一个, 同步分发)
//	Toolbox.Send → 出站队列 → senderLoop (全服务一个) → connEntry.write
package rpc

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/multi-agent/wsrpc/internal/config"
	"github.com/multi-agent/wsrpc/internal/database"
	"github.com/multi-agent/wsrpc/internal/model"
	"github.com/multi-agent/wsrpc/internal/protocol"
	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

const (
	authTimeout     = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// connEntry 已注册连接的写半部 (gorilla/websocket 不安全并发写)。
type connEntry struct {
	conn      *Connection
	ws        *websocket.Conn
	wrMu      sync.Mutex
	closeOnce sync.Once
}

func (e *connEntry) write(data []byte, timeout time.Duration) error {
	e.wrMu.Lock()
	defer e.wrMu.Unlock()
	_ = e.ws.SetWriteDeadline(time.Now().Add(timeout))
	return e.ws.WriteMessage(websocket.TextMessage, data)
}

func (e *connEntry) close() {
	e.closeOnce.Do(func() { _ = e.ws.Close() })
}

// Server WebSocket RPC 服务器。
type Server struct {
	cfg      *config.Config
	tb       *Toolbox
	registry *Registry
	auth     AuthController

	mu    sync.RWMutex
	conns map[uint32]*connEntry

	connIDs      *connIDGenerator
	upgrader     websocket.Upgrader
	engine       *gin.Engine
	writeTimeout time.Duration
}

// NewServer 创建服务器; cfg 为 nil 时使用默认配置, auth 为 nil 时接受所有连接。
func NewServer(cfg *config.Config, auth AuthController) *Server {
	if cfg == nil {
		cfg = &config.Config{Host: "0.0.0.0", Port: 8888, QueueSize: DefaultQueueSize, MaxMessageBytes: 4 << 20, WriteTimeoutSec: 10}
	}
	if auth == nil {
		auth = AllowAll{}
	}
	s := &Server{
		cfg:      cfg,
		tb:       NewToolbox(cfg.QueueSize),
		registry: NewRegistry(),
		auth:     auth,
		conns:    make(map[uint32]*connEntry),
		connIDs:  newConnIDGenerator(),
		upgrader: websocket.Upgrader{
			// 身份由握手头认证, 不校验 Origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: time.Duration(max(cfg.WriteTimeoutSec, 1)) * time.Second,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/", s.handleUpgrade)
	engine.GET("/healthz", s.handleHealthz)
	s.engine = engine
	return s
}

// Toolbox 服务器共享的 Toolbox, 供认证控制器与服务注册使用。
func (s *Server) Toolbox() *Toolbox { return s.tb }

// Engine gin 引擎, 可追加运维路由。
func (s *Server) Engine() *gin.Engine { return s.engine }

// SetDB 设置数据库句柄。
func (s *Server) SetDB(db database.DB) { s.tb.SetDB(db) }

// SetAuthController 替换认证控制器, 须在 Serve 之前调用。
func (s *Server) SetAuthController(auth AuthController) {
	if auth == nil {
		auth = AllowAll{}
	}
	s.auth = auth
}

// AddHandler 注册端点; 重复 method code 会 panic。
func (s *Server) AddHandler(schema model.EndpointSchema, h Handler) {
	s.registry.Add(schema, h)
}

// Endpoints 已注册端点描述。
func (s *Server) Endpoints() []model.EndpointSchema { return s.registry.Schemas() }

// ConnectionCount 当前已注册连接数。
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections": s.ConnectionCount(),
		"endpoints":   s.registry.Len(),
		"dropped":     s.tb.Dropped(),
	})
}

// firstProtocol 握手头的第一个逗号分隔段, 作为选中的子协议回显。
func firstProtocol(header string) string {
	first, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(first)
}

func (s *Server) handleUpgrade(c *gin.Context) {
	// 缺省头视为空串, 交给 AuthController 决定
	header := c.GetHeader("Sec-WebSocket-Protocol")
	var respHeader http.Header
	if proto := firstProtocol(header); proto != "" {
		respHeader = http.Header{}
		respHeader.Set("Sec-WebSocket-Protocol", proto)
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		logger.Warn("rpc: upgrade failed", logger.FieldRemote, c.RemoteIP(), logger.FieldError, err)
		return
	}
	if s.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(int64(s.cfg.MaxMessageBytes))
	}

	conn := NewConnection(s.connIDs.Next(), c.RemoteIP())
	entry := &connEntry{conn: conn, ws: ws}

	authCtx, cancel := context.WithTimeout(c.Request.Context(), authTimeout)
	responses, err := s.auth.Auth(authCtx, header, conn)
	cancel()
	if err != nil {
		s.rejectConn(entry, err)
		return
	}

	s.mu.Lock()
	s.conns[conn.ConnectionID] = entry
	s.mu.Unlock()
	logger.Info("rpc: client connected",
		logger.FieldConn, conn.ConnectionID,
		logger.FieldRemote, conn.Address,
		logger.FieldUserID, conn.UserID(),
		logger.FieldRole, conn.Role(),
	)

	flushCtx := RequestContext{ConnectionID: conn.ConnectionID, LogID: conn.LogID}
	for _, resp := range responses {
		s.tb.Send(flushCtx, resp)
	}

	s.readLoop(entry)
}

// rejectConn 认证失败: 写出一条 Error 响应后关闭, 连接不注册。
func (s *Server) rejectConn(entry *connEntry, err error) {
	conn := entry.conn
	ctx := RequestContext{ConnectionID: conn.ConnectionID, LogID: conn.LogID}
	logger.Warn("rpc: auth rejected",
		logger.FieldConn, conn.ConnectionID,
		logger.FieldRemote, conn.Address,
		logger.FieldError, err,
	)
	resp, ok := errorResponseFor(ctx, err)
	if !ok {
		resp = protocol.NewError(0, protocol.CodeUnauthorized, 0, "unauthorized")
	}
	if data, encErr := resp.Encode(); encErr == nil {
		_ = entry.write(data, s.writeTimeout)
	}
	entry.wrMu.Lock()
	_ = entry.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
		time.Now().Add(time.Second))
	entry.wrMu.Unlock()
	entry.close()
}

// readLoop 按到达顺序读取帧并同步分发; 退出时是释放连接的唯一位置。
func (s *Server) readLoop(entry *connEntry) {
	conn := entry.conn
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("rpc: read loop panicked", logger.FieldConn, conn.ConnectionID, logger.FieldError, rec)
		}
		s.removeConn(conn.ConnectionID)
		entry.close()
		logger.Info("rpc: client disconnected", logger.FieldConn, conn.ConnectionID)
	}()

	for {
		// ReadMessage 只返回 text/binary, ping/pong 由 gorilla 内部处理
		_, frame, err := entry.ws.ReadMessage()
		if err != nil {
			if isGracefulClose(err) {
				logger.Info("rpc: connection closed", logger.FieldConn, conn.ConnectionID, logger.FieldError, err)
			} else {
				logger.Error("rpc: read error", logger.FieldConn, conn.ConnectionID, logger.FieldError, err)
			}
			return
		}
		s.registry.dispatch(s.tb, conn, frame)
	}
}

// isGracefulClose close 帧或未握手的对端重置都视为正常断开。
func isGracefulClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET)
}

func (s *Server) removeConn(id uint32) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *Server) lookupConn(id uint32) (*connEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.conns[id]
	return entry, ok
}

// senderLoop 排空全局出站队列; 目标连接不存在时丢弃, 写失败关闭该连接。
func (s *Server) senderLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.tb.sender:
			s.deliver(msg)
		}
	}
}

func (s *Server) deliver(msg outbound) {
	entry, ok := s.lookupConn(msg.connID)
	if !ok {
		logger.Warn("rpc: connection not found, dropping response",
			logger.FieldConn, msg.connID,
			logger.FieldMethod, msg.resp.Method(),
		)
		return
	}
	data, err := msg.resp.Encode()
	if err != nil {
		logger.Error("rpc: encode response failed", logger.FieldConn, msg.connID, logger.FieldError, err)
		return
	}
	if err := entry.write(data, s.writeTimeout); err != nil {
		logger.Warn("rpc: write failed, closing connection", logger.FieldConn, msg.connID, logger.FieldError, err)
		entry.close()
	}
}

// closeAll 关闭所有已注册连接 (Shutdown 不处理被劫持的连接)。
func (s *Server) closeAll() {
	s.mu.RLock()
	entries := make([]*connEntry, 0, len(s.conns))
	for _, e := range s.conns {
		entries = append(entries, e)
	}
	s.mu.RUnlock()
	for _, e := range entries {
		e.close()
	}
}

// Listen 绑定 host:port; 配置了证书时包装为 TLS 监听器。
// 证书与私钥必须同时提供, 加载失败属于启动期致命错误。
func (s *Server) Listen(ctx context.Context) (net.Listener, error) {
	const op = "Server.Listen"
	if (s.cfg.PubCert == "") != (s.cfg.PrivKey == "") {
		return nil, pkgerr.WithCode(pkgerr.ErrTLSConfig, op, config.CodeTLS, "pub_cert and priv_key must be set together")
	}

	var tlsConfig *tls.Config
	if s.cfg.UseTLS() {
		cert, err := tls.LoadX509KeyPair(s.cfg.PubCert, s.cfg.PrivKey)
		if err != nil {
			return nil, pkgerr.WithCode(errors.Join(pkgerr.ErrTLSConfig, err), op, config.CodeTLS, "load key pair")
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return nil, pkgerr.Wrapf(err, op, "listen %s", s.cfg.Addr())
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	logger.Info("rpc: listening",
		logger.FieldAddr, ln.Addr().String(),
		logger.FieldTLS, tlsConfig != nil,
		logger.FieldName, s.cfg.Name,
	)
	return ln, nil
}

// Serve 在 ln 上运行 HTTP 服务与发送循环, ctx 取消后 5 秒内优雅关闭。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// TLS 握手等单连接错误只记录, 不影响监听
		ErrorLog: slog.NewLogLogger(logger.Get().Handler(), slog.LevelWarn),
	}

	g.Go(func() error { return s.senderLoop(gctx) })
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return pkgerr.Wrap(err, "Server.Serve", "serve")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("rpc: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("rpc: shutdown error", logger.FieldError, err)
		}
		s.tb.cancelTasks()
		s.closeAll()
		logger.Info("rpc: shutdown completed")
		return nil
	})
	return g.Wait()
}

// ListenAndServe Listen + Serve。
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
