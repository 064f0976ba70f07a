package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent/wsrpc/internal/config"
	"github.com/multi-agent/wsrpc/internal/model"
	"github.com/multi-agent/wsrpc/internal/protocol"
	"github.com/multi-agent/wsrpc/internal/rpc"
)

type echoReq struct {
	Text string `json:"text" validate:"required"`
}

func startServer(t *testing.T) string {
	t.Helper()
	srv := rpc.NewServer(&config.Config{Host: "127.0.0.1", QueueSize: 16, MaxMessageBytes: 1 << 20, WriteTimeoutSec: 5}, nil)
	schema := model.NewEndpointSchema("Echo", 1,
		[]model.Field{model.NewField("text", model.String)},
		[]model.Field{model.NewField("text", model.String)})
	srv.AddHandler(schema, rpc.Typed(func(tb *rpc.Toolbox, ctx rpc.RequestContext, conn *rpc.Connection, req echoReq) {
		tb.SendLog(ctx, protocol.LogInfo, "echoing")
		tb.SendResult(ctx, req, nil)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := srv.Listen(ctx)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return "ws://" + ln.Addr().String() + "/"
}

func TestCallPrintsUntilTerminal(t *testing.T) {
	url := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, call(ctx, &out, url, "", 1, json.RawMessage(`{"text":"hi"}`)))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"Log"`)
	assert.JSONEq(t, `{"Immediate":{"method":1,"seq":1,"params":{"text":"hi"}}}`, lines[1])
}

func TestCallReturnsRemoteError(t *testing.T) {
	url := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := call(ctx, &out, url, "", 77, json.RawMessage(`{}`))
	var custom *rpc.CustomError
	require.True(t, errors.As(err, &custom))
	assert.Equal(t, protocol.CodeNotFound, custom.Code)
	assert.Contains(t, out.String(), `"Error"`)
}
