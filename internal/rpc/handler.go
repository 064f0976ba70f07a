// handler.go — 端点注册表与类型擦除的处理器适配器。
//
// 用法:
//
//	srv.AddHandler(loginSchema, rpc.Async(h.login))
//	func (h *Handlers) login(ctx context.Context, tb *rpc.Toolbox, rc rpc.RequestContext, conn *rpc.Connection, req LoginReq) (LoginResp, error)
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/multi-agent/wsrpc/internal/model"
	"github.com/multi-agent/wsrpc/internal/protocol"
)

// Handler 类型擦除的处理器。Handle 在接收循环中同步调用, 必须快速返回;
// 慢操作通过 Toolbox.SpawnResponse 异步完成。每个请求恰好产生一个终结响应。
type Handler interface {
	Handle(tb *Toolbox, ctx RequestContext, conn *Connection, params json.RawMessage)
}

// HandlerFunc 函数适配器。
type HandlerFunc func(tb *Toolbox, ctx RequestContext, conn *Connection, params json.RawMessage)

// Handle 实现 Handler。
func (f HandlerFunc) Handle(tb *Toolbox, ctx RequestContext, conn *Connection, params json.RawMessage) {
	f(tb, ctx, conn, params)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeParams 解码并校验请求参数; 空 params / null 解码为零值后再校验。
func decodeParams[Req any](raw json.RawMessage) (Req, error) {
	var req Req
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		if err := dec.Decode(&req); err != nil {
			return req, fmt.Errorf("invalid params: %w", err)
		}
	}
	if isStruct(reflect.TypeOf(req)) {
		if err := validate.Struct(req); err != nil {
			return req, fmt.Errorf("invalid params: %w", err)
		}
	}
	return req, nil
}

func isStruct(t reflect.Type) bool {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct
}

// Typed 把强类型函数包装为 Handler: 解码 + validate 标签校验, 失败返回 400。
func Typed[Req any](fn func(tb *Toolbox, ctx RequestContext, conn *Connection, req Req)) Handler {
	return HandlerFunc(func(tb *Toolbox, ctx RequestContext, conn *Connection, params json.RawMessage) {
		req, err := decodeParams[Req](params)
		if err != nil {
			tb.Send(ctx, requestErrorResponse(ctx, protocol.CodeBadRequest, err))
			return
		}
		fn(tb, ctx, conn, req)
	})
}

// Async 最常用的适配器: 解码后通过 SpawnResponse 异步执行 fn。
// 返回值序列化为 Immediate, 错误按统一映射转换。
func Async[Req, Resp any](fn func(ctx context.Context, tb *Toolbox, rc RequestContext, conn *Connection, req Req) (Resp, error)) Handler {
	return Typed(func(tb *Toolbox, rc RequestContext, conn *Connection, req Req) {
		tb.SpawnResponse(rc, func(ctx context.Context) (any, error) {
			return fn(ctx, tb, rc, conn, req)
		})
	})
}

// Endpoint 端点描述 + 处理器。
type Endpoint struct {
	Schema  model.EndpointSchema
	Handler Handler
}

// Registry method code → Endpoint。
type Registry struct {
	mu        sync.RWMutex
	endpoints map[uint32]Endpoint
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[uint32]Endpoint)}
}

// Add 注册端点。重复的 method code 属于启动期编程错误, 直接 panic。
func (r *Registry) Add(schema model.EndpointSchema, h Handler) {
	if h == nil {
		panic(fmt.Sprintf("rpc: nil handler for endpoint %s (%d)", schema.Name, schema.Code))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.endpoints[schema.Code]; ok {
		panic(fmt.Sprintf("rpc: duplicate handler for method %d: %s and %s", schema.Code, prev.Schema.Name, schema.Name))
	}
	r.endpoints[schema.Code] = Endpoint{Schema: schema, Handler: h}
}

// Lookup 查找端点。
func (r *Registry) Lookup(code uint32) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[code]
	return ep, ok
}

// Len 已注册端点数。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}

// Schemas 按 code 排序的端点描述。
func (r *Registry) Schemas() []model.EndpointSchema {
	r.mu.RLock()
	out := make([]model.EndpointSchema, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep.Schema)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// dispatch 解析一帧并同步调用处理器; 所有失败都转换为 Error 响应。
func (r *Registry) dispatch(tb *Toolbox, conn *Connection, frame []byte) {
	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		ctx := conn.Context(0, 0)
		tb.Send(ctx, requestErrorResponse(ctx, protocol.CodeBadRequest, err))
		return
	}
	ctx := conn.Context(req.Seq, req.Method)
	ep, ok := r.Lookup(req.Method)
	if !ok {
		tb.Send(ctx, requestErrorResponse(ctx, protocol.CodeNotFound,
			fmt.Errorf("handler not found: method=%d", req.Method)))
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			tb.Send(ctx, internalErrorResponse(ctx, protocol.CodeInternal, fmt.Errorf("handler panic: %v", rec)))
		}
	}()
	ep.Handler.Handle(tb, ctx, conn, req.Params)
}
