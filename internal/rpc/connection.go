// connection.go — 连接身份与请求上下文。
package rpc

import (
	"sync/atomic"
	"time"
)

// Connection 一条已升级的 WebSocket 会话。
//
// userID/role 在握手阶段由认证处理器写入一次, 之后被并发请求读取,
// 两个字段各自原子, 不保证跨字段一致。
type Connection struct {
	ConnectionID uint32
	Address      string // 对端 IP
	LogID        uint64 // 日志聚合关联号

	userID    atomic.Int64
	role      atomic.Uint32
	streamSeq atomic.Uint32
}

// NewConnection 创建未认证连接 (user_id = 0, role = 0)。
func NewConnection(id uint32, address string) *Connection {
	return &Connection{ConnectionID: id, Address: address, LogID: NewLogID()}
}

// UserID 当前用户 ID; 0 表示未认证。
func (c *Connection) UserID() int64 { return c.userID.Load() }

// Role 当前角色; 0 表示未认证。
func (c *Connection) Role() uint32 { return c.role.Load() }

// SetUserID 写入用户 ID。
func (c *Connection) SetUserID(id int64) { c.userID.Store(id) }

// SetRole 写入角色。
func (c *Connection) SetRole(role uint32) { c.role.Store(role) }

// Authorize 同时写入用户与角色。
func (c *Connection) Authorize(userID int64, role uint32) {
	c.userID.Store(userID)
	c.role.Store(role)
}

// Authenticated 是否已完成认证。
func (c *Connection) Authenticated() bool { return c.userID.Load() != 0 }

// NextStreamSeq Stream 响应独立的递增序号。
func (c *Connection) NextStreamSeq() uint32 { return c.streamSeq.Add(1) }

// Context 为一次入站请求构造上下文, user_id 取快照。
func (c *Connection) Context(seq, method uint32) RequestContext {
	return RequestContext{
		ConnectionID: c.ConnectionID,
		UserID:       c.userID.Load(),
		Seq:          seq,
		Method:       method,
		LogID:        NewLogID(),
	}
}

// RequestContext 单次请求的关联数据, 按值传递, 处理结束后不保留。
//
// Seq 原样回显给客户端; 服务端不去重, 也不保证唯一。
type RequestContext struct {
	ConnectionID uint32
	UserID       int64
	Seq          uint32
	Method       uint32
	LogID        uint64
}

// NewLogID 纳秒时间戳, 用作日志关联号。
func NewLogID() uint64 { return uint64(time.Now().UnixNano()) }

// connIDGenerator 进程内唯一的连接号, 以创建时刻为种子。
type connIDGenerator struct{ next atomic.Uint32 }

func newConnIDGenerator() *connIDGenerator {
	g := &connIDGenerator{}
	g.next.Store(uint32(time.Now().Unix()))
	return g
}

func (g *connIDGenerator) Next() uint32 {
	for {
		if id := g.next.Add(1); id != 0 {
			return id
		}
	}
}
