package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		resp Response
	}{
		{"immediate", Response{Immediate: &ImmediateResponse{Method: 10020, Seq: 1, Params: json.RawMessage(`{"username":"alice"}`)}}},
		{"immediate_zero_seq", Response{Immediate: &ImmediateResponse{Method: 1, Seq: 0, Params: json.RawMessage(`[]`)}}},
		{"stream", Response{Stream: &StreamResponse{Method: 20000, StreamSeq: 7, Resource: "prices", Data: json.RawMessage(`{"p":1.5}`)}}},
		{"log", Response{Log: &LogResponse{Seq: 3, LogID: 1700000000000000000, Level: LogWarn, Message: "slow query"}}},
		{"forwarded", Response{Forwarded: &ForwardedResponse{Method: 30000, Seq: 9}}},
		{"forwarded_zero", Response{Forwarded: &ForwardedResponse{}}},
		{"error", Response{Error: &ErrorResponse{Method: 10020, Code: CodeUnknownUser, Seq: 1, Reason: "unknown user"}}},
		{"error_empty_reason", Response{Error: &ErrorResponse{Method: 0, Code: CodeNotFound, Seq: 0, Reason: ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.resp.Encode()
			require.NoError(t, err)
			got, err := DecodeResponse(data)
			require.NoError(t, err)
			assert.Equal(t, tt.resp, got)
		})
	}
}

func TestResponseEncodeIsTagged(t *testing.T) {
	data, err := NewError(10020, CodeUnknownUser, 1, "x").Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"Error":{"method":10020,"code":45349639,"seq":1,"reason":"x"}}`, string(data))
}

func TestResponseDecodeUntagged(t *testing.T) {
	tests := []struct {
		name string
		in   string
		kind Kind
	}{
		{"immediate", `{"method":1,"seq":2,"params":{"a":1}}`, KindImmediate},
		{"stream", `{"method":1,"stream_seq":2,"resource":"r","data":null}`, KindStream},
		{"log", `{"seq":2,"log_id":5,"level":"Info","message":"m"}`, KindLog},
		{"error", `{"method":1,"code":400,"seq":2,"reason":""}`, KindError},
		{"forwarded", `{"method":1,"seq":2}`, KindForwarded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResponse([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind())
		})
	}
}

func TestResponseDecodeRejectsUnknown(t *testing.T) {
	for _, in := range []string{`{}`, `{"foo":1}`, `[1,2]`, `{"Error":{"bogus":1}}`, `{"Log":{"level":"Loud"}}`} {
		_, err := DecodeResponse([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestResponseAccessors(t *testing.T) {
	r := NewForwarded(5, 6)
	assert.True(t, r.Terminal())
	seq, ok := r.Seq()
	assert.True(t, ok)
	assert.EqualValues(t, 6, seq)
	assert.EqualValues(t, 5, r.Method())

	s, err := NewStream(5, 1, "res", map[string]int{"a": 1})
	require.NoError(t, err)
	assert.False(t, s.Terminal())
	_, ok = s.Seq()
	assert.False(t, ok)

	assert.False(t, NewLog(1, 2, LogInfo, "m").Terminal())

	_, err = Response{}.Encode()
	assert.Error(t, err)
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"method":10020,"seq":1,"params":{"username":"a"}}`))
	require.NoError(t, err)
	assert.EqualValues(t, 10020, req.Method)
	assert.EqualValues(t, 1, req.Seq)
	assert.JSONEq(t, `{"username":"a"}`, string(req.Params))

	_, err = DecodeRequest([]byte(`{"method":"x"}`))
	assert.Error(t, err)
	_, err = DecodeRequest([]byte(`not json`))
	assert.Error(t, err)
}

func TestLogLevelSlog(t *testing.T) {
	_, ok := LogOff.Slog()
	assert.False(t, ok)
	lvl, ok := LogError.Slog()
	assert.True(t, ok)
	assert.Equal(t, "ERROR", lvl.String())

	parsed, err := ParseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, LogWarn, parsed)
}
