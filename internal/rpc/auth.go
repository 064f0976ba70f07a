// auth.go — 握手期认证: Sec-WebSocket-Protocol 位置参数头解析与认证端点调用。
//
// 头格式: 逗号分隔, 每段去空白后首字节为下标, 其余为值:
//
//	0login, 1alice, 2<token>, 3<service>, 4<deviceId>, 5<deviceOS>
//
// 下标 0 为操作名 (端点名小写), 1..n 依次对应端点 Parameters。
// 值内不支持转义, 含逗号的值会被切开。下标只有一个字节, 最多 9 个参数。
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/multi-agent/wsrpc/internal/model"
	"github.com/multi-agent/wsrpc/internal/protocol"
	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
	"github.com/multi-agent/wsrpc/pkg/logger"
	"github.com/multi-agent/wsrpc/pkg/util"
)

// maxHeaderParams 单字节下标可表达的最大参数个数。
const maxHeaderParams = 9

// AuthController 握手期认证。返回的响应在连接注册后按序发送;
// 返回错误时服务器写出一条 Error 响应并关闭连接。
type AuthController interface {
	Auth(ctx context.Context, header string, conn *Connection) ([]protocol.Response, error)
}

// AllowAll 接受所有连接, 不解析头, 连接保持未认证。
type AllowAll struct{}

// Auth 实现 AuthController。
func (AllowAll) Auth(context.Context, string, *Connection) ([]protocol.Response, error) {
	return nil, nil
}

// EndpointAuthController 按操作名把握手头路由到认证端点。
type EndpointAuthController struct {
	tb        *Toolbox
	mu        sync.RWMutex
	endpoints map[string]Endpoint // 小写端点名 → Endpoint
}

// NewEndpointAuthController 创建认证控制器, tb 一般为服务器的 Toolbox。
func NewEndpointAuthController(tb *Toolbox) *EndpointAuthController {
	return &EndpointAuthController{tb: tb, endpoints: make(map[string]Endpoint)}
}

// AddAuthEndpoint 注册认证端点; 同名覆盖。
func (c *EndpointAuthController) AddAuthEndpoint(schema model.EndpointSchema, h Handler) {
	if len(schema.Parameters) > maxHeaderParams {
		panic(fmt.Sprintf("rpc: auth endpoint %s has %d parameters, header supports at most %d",
			schema.Name, len(schema.Parameters), maxHeaderParams))
	}
	c.mu.Lock()
	c.endpoints[strings.ToLower(schema.Name)] = Endpoint{Schema: schema, Handler: h}
	c.mu.Unlock()
}

// Auth 解析头, 同步调用端点处理器并等待其派生的全部任务。
func (c *EndpointAuthController) Auth(ctx context.Context, header string, conn *Connection) ([]protocol.Response, error) {
	fields := ParseHeader(header)
	method, ok := fields["0"]
	if !ok {
		return nil, NewCustomError(protocol.CodeBadRequest, "could not find method").WithCause(pkgerr.ErrInvalidHeader)
	}

	c.mu.RLock()
	ep, ok := c.endpoints[strings.ToLower(method)]
	c.mu.RUnlock()
	if !ok {
		return nil, Errorf(protocol.CodeBadRequest, "could not find endpoint for method %s", method).WithCause(pkgerr.ErrInvalidHeader)
	}

	params, err := BuildParams(ep.Schema, fields)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	rc := RequestContext{
		ConnectionID: conn.ConnectionID,
		Seq:          0,
		Method:       ep.Schema.Code,
		LogID:        conn.LogID,
	}
	logger.Debug("auth: invoking endpoint",
		logger.FieldConn, conn.ConnectionID,
		logger.FieldName, ep.Schema.Name,
		logger.FieldMethod, ep.Schema.Code,
	)

	group := c.tb.CollectTasks(func(tb *Toolbox) {
		defer func() {
			if rec := recover(); rec != nil {
				tb.Send(rc, internalErrorResponse(rc, protocol.CodeInternal, fmt.Errorf("auth handler panic: %v", rec)))
			}
		}()
		ep.Handler.Handle(tb, rc, conn, raw)
	})

	type result struct {
		responses []protocol.Response
		err       error
	}
	done := make(chan result, 1)
	util.SafeGo(func() {
		responses, err := group.Wait()
		done <- result{responses, err}
	})
	select {
	case r := <-done:
		return r.responses, rejected(r.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// rejected 端点拒绝的业务错误以 ErrUnauthorized 为原因; 其他错误原样返回, 交给错误映射。
func rejected(err error) error {
	var custom *CustomError
	if err == nil || !errors.As(err, &custom) || custom.Err != nil {
		return err
	}
	return custom.WithCause(pkgerr.ErrUnauthorized)
}

// ParseHeader 把位置参数头拆成 下标 → 值; 重复下标以后者为准。
func ParseHeader(header string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out[part[:1]] = part[1:]
	}
	return out
}

// BuildParams 按端点参数声明把位置值转换为 camelCase 键的 JSON 对象。
func BuildParams(schema model.EndpointSchema, fields map[string]string) (map[string]any, error) {
	params := make(map[string]any, len(schema.Parameters))
	for i, p := range schema.Parameters {
		index := strconv.Itoa(i + 1)
		value, ok := fields[index]
		ty := p.Type
		if ty.Kind == model.KindOptional {
			if !ok {
				continue
			}
			if ty.Elem != nil {
				ty = *ty.Elem
			}
		}
		if !ok {
			return nil, Errorf(protocol.CodeBadRequest, "could not find param %s %s", p.Name, index).WithCause(pkgerr.ErrInvalidHeader)
		}
		v, err := coerceHeaderValue(ty, value)
		if err != nil {
			return nil, Errorf(protocol.CodeBadRequest, "param %s %s: %v", p.Name, index, err).
				WithCause(errors.Join(pkgerr.ErrInvalidHeader, err))
		}
		params[util.ToCamelCase(p.Name)] = v
	}
	return params, nil
}

func coerceHeaderValue(ty model.Type, value string) (any, error) {
	switch ty.Kind {
	case model.KindString:
		return value, nil
	case model.KindInt:
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse integer: %s", value)
		}
		return n, nil
	case model.KindBigInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse integer: %s", value)
		}
		return n, nil
	case model.KindBoolean:
		switch value {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("failed to parse boolean: %s", value)
	case model.KindUUID:
		id, err := uuid.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("failed to parse uuid: %s", value)
		}
		return id.String(), nil
	case model.KindInet:
		if ip := net.ParseIP(value); ip != nil {
			return ip.String(), nil
		}
		if prefix, err := netip.ParsePrefix(value); err == nil {
			return prefix.String(), nil
		}
		return nil, fmt.Errorf("failed to parse inet: %s", value)
	case model.KindEnum:
		for _, v := range ty.Variants {
			if strings.EqualFold(v.Name, value) {
				return v.Value, nil
			}
		}
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("unknown %s variant: %s", ty.Name, value)
		}
		for _, v := range ty.Variants {
			if int64(v.Value) == n {
				return v.Value, nil
			}
		}
		return nil, fmt.Errorf("unknown %s variant: %s", ty.Name, value)
	}
	return nil, fmt.Errorf("type %s is not supported in auth header", ty)
}

// EncodeHeader 生成握手头, 与 ParseHeader/BuildParams 互逆。
// v 按 JSON 编码后以 camelCase 参数名取值; Optional 参数缺省时跳过该下标。
func EncodeHeader(schema model.EndpointSchema, v any) (string, error) {
	if len(schema.Parameters) > maxHeaderParams {
		return "", fmt.Errorf("endpoint %s has too many parameters for auth header", schema.Name)
	}
	var values map[string]json.RawMessage
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		if err := json.Unmarshal(raw, &values); err != nil {
			return "", fmt.Errorf("auth params must encode as an object: %w", err)
		}
	}

	parts := []string{"0" + strings.ToLower(schema.Name)}
	for i, p := range schema.Parameters {
		raw, ok := values[util.ToCamelCase(p.Name)]
		if !ok || string(raw) == "null" {
			if p.Type.Kind == model.KindOptional {
				continue
			}
			return "", fmt.Errorf("missing param %s", p.Name)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// 数字与布尔按 JSON 文本原样输出
			s = string(raw)
		}
		parts = append(parts, strconv.Itoa(i+1)+s)
	}
	return strings.Join(parts, ", "), nil
}
