// envelope.go — WebSocket RPC 信封类型定义。
//
//	Request:   {"method":10020, "seq":1, "params":{...}}
//	Immediate: {"Immediate":{"method":10020, "seq":1, "params":{...}}}
//	Stream:    {"Stream":{"method":..., "stream_seq":3, "resource":"...", "data":{...}}}
//	Log:       {"Log":{"seq":1, "log_id":..., "level":"Info", "message":"..."}}
//	Forwarded: {"Forwarded":{"method":..., "seq":1}}
//	Error:     {"Error":{"method":..., "code":..., "seq":1, "reason":"..."}}
//
// 解码同时接受不带外层标签的裸对象, 按字段存在性依次探测变体。
package protocol

import (
	"bytes"
	"encoding/json"

	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
)

// Request 客户端请求信封。params 在 method 解析后才按端点类型解码。
type Request struct {
	Method uint32          `json:"method"`
	Seq    uint32          `json:"seq"`
	Params json.RawMessage `json:"params"`
}

// DecodeRequest 解码一帧请求。
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, pkgerr.Wrap(err, "Protocol.DecodeRequest", "malformed request frame")
	}
	return req, nil
}

// ImmediateResponse 单值完成响应 (终结)。
type ImmediateResponse struct {
	Method uint32          `json:"method"`
	Seq    uint32          `json:"seq"`
	Params json.RawMessage `json:"params"`
}

// StreamResponse 按资源名推送的带外数据, 使用独立的 stream_seq 序列。
type StreamResponse struct {
	Method    uint32          `json:"method"`
	StreamSeq uint32          `json:"stream_seq"`
	Resource  string          `json:"resource"`
	Data      json.RawMessage `json:"data"`
}

// LogResponse 与请求关联的服务端诊断行 (非终结)。
type LogResponse struct {
	Seq     uint32   `json:"seq"`
	LogID   uint64   `json:"log_id"`
	Level   LogLevel `json:"level"`
	Message string   `json:"message"`
}

// ForwardedResponse 请求已被转发, 没有即时结果 (终结)。
type ForwardedResponse struct {
	Method uint32 `json:"method"`
	Seq    uint32 `json:"seq"`
}

// ErrorResponse 请求失败 (终结)。
type ErrorResponse struct {
	Method uint32    `json:"method"`
	Code   ErrorCode `json:"code"`
	Seq    uint32    `json:"seq"`
	Reason string    `json:"reason"`
}

// Response 五种响应变体的联合体, 恰好一个字段非 nil。
type Response struct {
	Immediate *ImmediateResponse `json:",omitempty"`
	Stream    *StreamResponse    `json:",omitempty"`
	Log       *LogResponse       `json:",omitempty"`
	Forwarded *ForwardedResponse `json:",omitempty"`
	Error     *ErrorResponse     `json:",omitempty"`
}

// Kind 响应变体名。
type Kind string

const (
	KindImmediate Kind = "Immediate"
	KindStream    Kind = "Stream"
	KindLog       Kind = "Log"
	KindForwarded Kind = "Forwarded"
	KindError     Kind = "Error"
)

// --- 便捷构造函数 ---

// NewImmediate 序列化 v 为 Immediate 响应。
func NewImmediate(method, seq uint32, v any) (Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Response{}, pkgerr.Wrap(err, "Protocol.NewImmediate", "marshal params")
	}
	return Response{Immediate: &ImmediateResponse{Method: method, Seq: seq, Params: raw}}, nil
}

// NewStream 序列化 v 为 Stream 响应。
func NewStream(method, streamSeq uint32, resource string, v any) (Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Response{}, pkgerr.Wrap(err, "Protocol.NewStream", "marshal data")
	}
	return Response{Stream: &StreamResponse{Method: method, StreamSeq: streamSeq, Resource: resource, Data: raw}}, nil
}

// NewLog 日志响应。
func NewLog(seq uint32, logID uint64, level LogLevel, msg string) Response {
	return Response{Log: &LogResponse{Seq: seq, LogID: logID, Level: level, Message: msg}}
}

// NewForwarded 转发确认。
func NewForwarded(method, seq uint32) Response {
	return Response{Forwarded: &ForwardedResponse{Method: method, Seq: seq}}
}

// NewError 错误响应。
func NewError(method uint32, code ErrorCode, seq uint32, reason string) Response {
	return Response{Error: &ErrorResponse{Method: method, Code: code, Seq: seq, Reason: reason}}
}

// Kind 返回变体名; 空响应返回 ""。
func (r Response) Kind() Kind {
	switch {
	case r.Immediate != nil:
		return KindImmediate
	case r.Stream != nil:
		return KindStream
	case r.Log != nil:
		return KindLog
	case r.Forwarded != nil:
		return KindForwarded
	case r.Error != nil:
		return KindError
	}
	return ""
}

// Terminal 是否为终结响应 (Immediate / Forwarded / Error)。
func (r Response) Terminal() bool {
	return r.Immediate != nil || r.Forwarded != nil || r.Error != nil
}

// Seq 返回请求序号; Stream 没有请求序号, 返回 false。
func (r Response) Seq() (uint32, bool) {
	switch {
	case r.Immediate != nil:
		return r.Immediate.Seq, true
	case r.Log != nil:
		return r.Log.Seq, true
	case r.Forwarded != nil:
		return r.Forwarded.Seq, true
	case r.Error != nil:
		return r.Error.Seq, true
	}
	return 0, false
}

// Method 返回端点编码; Log 不携带 method。
func (r Response) Method() uint32 {
	switch {
	case r.Immediate != nil:
		return r.Immediate.Method
	case r.Stream != nil:
		return r.Stream.Method
	case r.Forwarded != nil:
		return r.Forwarded.Method
	case r.Error != nil:
		return r.Error.Method
	}
	return 0
}

// Encode 序列化为外层带标签的 JSON。
func (r Response) Encode() ([]byte, error) {
	if r.Kind() == "" {
		return nil, pkgerr.New("Protocol.Encode", "empty response")
	}
	return json.Marshal(r)
}

// DecodeResponse 解码一帧响应。
func DecodeResponse(data []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return Response{}, err
	}
	return r, nil
}

// UnmarshalJSON 先按外层标签解码, 失败则按字段存在性探测裸对象。
//
// 探测顺序: Immediate(params) → Stream(stream_seq/resource/data) →
// Log(log_id/level/message) → Error(code/reason) → Forwarded(method+seq)。
// Forwarded 的字段是 Error 的子集, 所以 Error 必须先于 Forwarded 探测。
func (r *Response) UnmarshalJSON(data []byte) error {
	const op = "Protocol.DecodeResponse"
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return pkgerr.Wrap(err, op, "response is not a JSON object")
	}
	*r = Response{}

	if len(fields) == 1 {
		for key, raw := range fields {
			if ok, err := r.decodeTagged(Kind(key), raw); ok {
				return err
			}
		}
	}

	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := fields[k]; ok {
				return true
			}
		}
		return false
	}
	switch {
	case has("params"):
		r.Immediate = new(ImmediateResponse)
		return strictUnmarshal(data, r.Immediate)
	case has("stream_seq", "resource", "data"):
		r.Stream = new(StreamResponse)
		return strictUnmarshal(data, r.Stream)
	case has("log_id", "level", "message"):
		r.Log = new(LogResponse)
		return strictUnmarshal(data, r.Log)
	case has("code", "reason"):
		r.Error = new(ErrorResponse)
		return strictUnmarshal(data, r.Error)
	case has("method") && has("seq"):
		r.Forwarded = new(ForwardedResponse)
		return strictUnmarshal(data, r.Forwarded)
	}
	return pkgerr.New(op, "unknown response variant")
}

// decodeTagged 解码 {"<Kind>": {...}}; key 不是变体名时返回 ok=false。
func (r *Response) decodeTagged(kind Kind, raw json.RawMessage) (bool, error) {
	switch kind {
	case KindImmediate:
		r.Immediate = new(ImmediateResponse)
		return true, strictUnmarshal(raw, r.Immediate)
	case KindStream:
		r.Stream = new(StreamResponse)
		return true, strictUnmarshal(raw, r.Stream)
	case KindLog:
		r.Log = new(LogResponse)
		return true, strictUnmarshal(raw, r.Log)
	case KindForwarded:
		r.Forwarded = new(ForwardedResponse)
		return true, strictUnmarshal(raw, r.Forwarded)
	case KindError:
		r.Error = new(ErrorResponse)
		return true, strictUnmarshal(raw, r.Error)
	}
	return false, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return pkgerr.Wrap(err, "Protocol.DecodeResponse", "decode variant")
	}
	return nil
}
