// toolbox.go — 注入每个处理器的共享设施: 数据库、扩展值、出站响应队列、任务收集。
package rpc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/multi-agent/wsrpc/internal/database"
	"github.com/multi-agent/wsrpc/internal/protocol"
	"github.com/multi-agent/wsrpc/internal/telemetry"
	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
	"github.com/multi-agent/wsrpc/pkg/logger"
	"github.com/multi-agent/wsrpc/pkg/util"
)

// DefaultQueueSize 出站队列默认容量。
const DefaultQueueSize = 100

// outbound 发往某个连接的一条响应。
type outbound struct {
	connID uint32
	resp   protocol.Response
}

// Toolbox 服务级共享状态 (非请求级)。
//
// 拷贝是浅拷贝: 所有副本共享同一个队列、扩展值表和丢弃计数。
type Toolbox struct {
	db      database.DB
	values  *sync.Map
	sender  chan outbound
	dropped *atomic.Int64
	tasks   *TaskGroup // 仅 CollectTasks 作用域内非 nil

	// 所有 SpawnResponse 任务 context 的父级, 服务器关闭时取消
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewToolbox 创建 Toolbox; queueSize <= 0 时使用默认容量。
func NewToolbox(queueSize int) *Toolbox {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Toolbox{
		values:  &sync.Map{},
		sender:  make(chan outbound, queueSize),
		dropped: &atomic.Int64{},
		baseCtx: baseCtx,
		cancel:  cancel,
	}
}

// cancelTasks 取消所有进行中任务的 context。
func (t *Toolbox) cancelTasks() { t.cancel() }

// SetDB 启动期设置数据库, 之后不再修改。
func (t *Toolbox) SetDB(db database.DB) { t.db = db }

// DB 返回数据库句柄。未初始化属于编程错误, 直接 panic。
func (t *Toolbox) DB() database.DB {
	if t.db == nil {
		panic(pkgerr.Wrap(pkgerr.ErrNotInitialized, "Toolbox.DB", "database"))
	}
	return t.db
}

// HasDB 数据库是否已设置。
func (t *Toolbox) HasDB() bool { return t.db != nil }

// SetValue 存储扩展值。
func (t *Toolbox) SetValue(key string, v any) { t.values.Store(key, v) }

// Value 读取扩展值。
func (t *Toolbox) Value(key string) (any, bool) { return t.values.Load(key) }

// ValueOf 按类型读取扩展值; 类型不符视为编程错误。
func ValueOf[T any](t *Toolbox, key string) (T, bool) {
	var zero T
	v, ok := t.values.Load(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		panic("rpc: toolbox value " + key + " has unexpected type")
	}
	return typed, true
}

// Dropped 因队列满被丢弃的响应数。
func (t *Toolbox) Dropped() int64 { return t.dropped.Load() }

// QueueLen 出站队列当前深度。
func (t *Toolbox) QueueLen() int { return len(t.sender) }

// Send 把响应投递到出站队列; 队列满时记录日志并丢弃, 从不阻塞。
func (t *Toolbox) Send(ctx RequestContext, resp protocol.Response) {
	if t.tasks != nil {
		t.tasks.collect(resp)
		return
	}
	select {
	case t.sender <- outbound{connID: ctx.ConnectionID, resp: resp}:
	default:
		n := t.dropped.Add(1)
		logger.Error("cannot send message, queue full",
			logger.FieldConn, ctx.ConnectionID,
			logger.FieldMethod, ctx.Method,
			logger.FieldSeq, ctx.Seq,
			logger.FieldDropped, n,
			logger.FieldError, pkgerr.ErrQueueFull,
		)
	}
}

// SendLog 发送与请求关联的日志行。
func (t *Toolbox) SendLog(ctx RequestContext, level protocol.LogLevel, msg string) {
	t.Send(ctx, protocol.NewLog(ctx.Seq, ctx.LogID, level, msg))
}

// SendStream 按资源名推送数据, 使用连接独立的 stream_seq。
func (t *Toolbox) SendStream(ctx RequestContext, conn *Connection, resource string, data any) error {
	resp, err := protocol.NewStream(ctx.Method, conn.NextStreamSeq(), resource, data)
	if err != nil {
		return err
	}
	t.Send(ctx, resp)
	return nil
}

// SendForwarded 确认请求已转发。
func (t *Toolbox) SendForwarded(ctx RequestContext) {
	t.Send(ctx, protocol.NewForwarded(ctx.Method, ctx.Seq))
}

// SendError 以内部错误形式响应, 错误详情只写日志。
func (t *Toolbox) SendError(ctx RequestContext, code protocol.ErrorCode, err error) {
	t.Send(ctx, internalErrorResponse(ctx, code, err))
}

// SendResult 把处理结果映射为终结响应并发送。
func (t *Toolbox) SendResult(ctx RequestContext, v any, err error) {
	if resp, ok := t.resultResponse(ctx, v, err); ok {
		t.Send(ctx, resp)
	}
}

func (t *Toolbox) resultResponse(ctx RequestContext, v any, err error) (protocol.Response, bool) {
	if err != nil {
		return errorResponseFor(ctx, err)
	}
	resp, err := protocol.NewImmediate(ctx.Method, ctx.Seq, v)
	if err != nil {
		return internalErrorResponse(ctx, protocol.CodeInternal, err), true
	}
	return resp, true
}

// ResponseFunc 异步计算一个请求的结果。
type ResponseFunc func(ctx context.Context) (any, error)

// SpawnResponse 在独立 goroutine 中运行 fn, 完成后映射结果并发送; 接收循环不等待。
//
// fn 的 context 携带请求级日志器与 span, 服务器关闭时被取消。panic 视为内部错误。
func (t *Toolbox) SpawnResponse(ctx RequestContext, fn ResponseFunc) {
	run := func() error {
		spanCtx, span := telemetry.StartRequest(t.baseCtx, ctx.ConnectionID, ctx.Method, ctx.Seq, ctx.LogID)
		reqCtx := logger.WithContext(spanCtx, logger.With(
			logger.FieldConn, ctx.ConnectionID,
			logger.FieldMethod, ctx.Method,
			logger.FieldSeq, ctx.Seq,
			logger.FieldLogID, ctx.LogID,
		))

		var v any
		err := util.Recover(func() error {
			var ferr error
			v, ferr = fn(reqCtx)
			return ferr
		})
		telemetry.EndRequest(span, err)
		t.SendResult(ctx, v, err)
		if err != nil && !errors.Is(err, ErrNoResponse) {
			return err
		}
		return nil
	}

	if t.tasks != nil {
		t.tasks.g.Go(run)
		return
	}
	util.SafeGo(func() { _ = run() })
}

// CollectTasks 在收集作用域内同步调用 fn: fn 期间 SpawnResponse 启动的任务
// 以及发送的响应都归入返回的 TaskGroup, 不进入出站队列。用于握手期认证。
func (t *Toolbox) CollectTasks(fn func(tb *Toolbox)) *TaskGroup {
	group := &TaskGroup{}
	scoped := *t
	scoped.tasks = group
	fn(&scoped)
	return group
}

// TaskGroup 一次认证调用触发的所有任务与响应。
type TaskGroup struct {
	g         errgroup.Group
	mu        sync.Mutex
	responses []protocol.Response
}

func (g *TaskGroup) collect(resp protocol.Response) {
	g.mu.Lock()
	g.responses = append(g.responses, resp)
	g.mu.Unlock()
}

// Wait 等待所有任务完成, 返回收集到的响应和第一个任务错误。
// 同步发送的 Error 响应 (如参数解码失败) 也视为失败。
func (g *TaskGroup) Wait() ([]protocol.Response, error) {
	err := g.g.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	out := append([]protocol.Response(nil), g.responses...)
	if err == nil {
		for _, r := range out {
			if r.Error != nil {
				err = &CustomError{Code: r.Error.Code, Reason: r.Error.Reason}
				break
			}
		}
	}
	return out, err
}
