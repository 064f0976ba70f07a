package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent/wsrpc/internal/database"
	"github.com/multi-agent/wsrpc/internal/protocol"
	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
)

type stubDB struct {
	query func(ctx context.Context, stmt string, args ...any) (database.Rows, error)
}

func (s *stubDB) Query(ctx context.Context, stmt string, args ...any) (database.Rows, error) {
	return s.query(ctx, stmt, args...)
}

func (s *stubDB) Close() {}

func recvOutbound(t *testing.T, tb *Toolbox) outbound {
	t.Helper()
	select {
	case msg := <-tb.sender:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for outbound response")
	}
	return outbound{}
}

func TestToolboxSend_DropsWhenFull(t *testing.T) {
	tb := NewToolbox(1)
	ctx := testCtx()

	tb.SendForwarded(ctx)
	tb.SendForwarded(ctx)
	tb.SendForwarded(ctx)

	assert.Equal(t, int64(2), tb.Dropped())
	assert.Equal(t, 1, tb.QueueLen())
}

func TestToolboxDB_PanicsWhenUnset(t *testing.T) {
	tb := NewToolbox(0)
	assert.False(t, tb.HasDB())
	func() {
		defer func() {
			rec := recover()
			err, ok := rec.(error)
			require.True(t, ok, "panic value %v", rec)
			assert.ErrorIs(t, err, pkgerr.ErrNotInitialized)
		}()
		tb.DB()
	}()

	tb.SetDB(&stubDB{})
	assert.True(t, tb.HasDB())
	assert.NotPanics(t, func() { tb.DB() })
}

func TestToolboxValues(t *testing.T) {
	tb := NewToolbox(0)
	tb.SetValue("limit", 5)

	v, ok := ValueOf[int](tb, "limit")
	require.True(t, ok)
	assert.Equal(t, 5, v)

	_, ok = ValueOf[int](tb, "missing")
	assert.False(t, ok)
	assert.Panics(t, func() { _, _ = ValueOf[string](tb, "limit") })

	// 浅拷贝共享扩展值
	scoped := tb.CollectTasks(func(inner *Toolbox) {
		inner.SetValue("shared", true)
	})
	_, err := scoped.Wait()
	require.NoError(t, err)
	_, ok = tb.Value("shared")
	assert.True(t, ok)
}

func TestSpawnResponse_Immediate(t *testing.T) {
	tb := NewToolbox(4)
	ctx := testCtx()
	tb.SpawnResponse(ctx, func(context.Context) (any, error) {
		return map[string]int{"userId": 7}, nil
	})

	msg := recvOutbound(t, tb)
	assert.Equal(t, uint32(9), msg.connID)
	require.NotNil(t, msg.resp.Immediate)
	assert.Equal(t, uint32(3), msg.resp.Immediate.Seq)
	assert.JSONEq(t, `{"userId":7}`, string(msg.resp.Immediate.Params))
}

func TestSpawnResponse_PanicBecomesInternal(t *testing.T) {
	tb := NewToolbox(4)
	tb.SpawnResponse(testCtx(), func(context.Context) (any, error) {
		panic("boom")
	})

	msg := recvOutbound(t, tb)
	require.NotNil(t, msg.resp.Error)
	assert.Equal(t, protocol.CodeInternal, msg.resp.Error.Code)
}

func TestSpawnResponse_CancelledOnShutdown(t *testing.T) {
	tb := NewToolbox(4)
	started := make(chan struct{})
	tb.SpawnResponse(testCtx(), func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	tb.cancelTasks()

	msg := recvOutbound(t, tb)
	require.NotNil(t, msg.resp.Error)
	assert.Equal(t, protocol.CodeInternal, msg.resp.Error.Code)
}

func TestSpawnResponse_NoResponseSuppressed(t *testing.T) {
	tb := NewToolbox(4)
	done := make(chan struct{})
	tb.SpawnResponse(testCtx(), func(context.Context) (any, error) {
		defer close(done)
		return nil, ErrNoResponse
	})
	<-done
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, tb.QueueLen())
}

func TestSendStream_IncrementsStreamSeq(t *testing.T) {
	tb := NewToolbox(4)
	conn := NewConnection(9, "127.0.0.1")
	require.NoError(t, tb.SendStream(testCtx(), conn, "ticks", []int{1}))
	require.NoError(t, tb.SendStream(testCtx(), conn, "ticks", []int{2}))

	first := recvOutbound(t, tb)
	second := recvOutbound(t, tb)
	require.NotNil(t, first.resp.Stream)
	require.NotNil(t, second.resp.Stream)
	assert.Equal(t, uint32(1), first.resp.Stream.StreamSeq)
	assert.Equal(t, uint32(2), second.resp.Stream.StreamSeq)
	assert.Equal(t, "ticks", second.resp.Stream.Resource)
}

func TestCollectTasks(t *testing.T) {
	tb := NewToolbox(4)
	ctx := testCtx()

	group := tb.CollectTasks(func(inner *Toolbox) {
		inner.SendLog(ctx, protocol.LogInfo, "checking")
		inner.SpawnResponse(ctx, func(context.Context) (any, error) {
			time.Sleep(20 * time.Millisecond)
			return "ok", nil
		})
	})
	responses, err := group.Wait()
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.NotNil(t, responses[0].Log)
	assert.NotNil(t, responses[1].Immediate)
	assert.Equal(t, 0, tb.QueueLen(), "collected responses must not reach the queue")
}

func TestCollectTasks_ErrorFails(t *testing.T) {
	tb := NewToolbox(4)
	ctx := testCtx()

	group := tb.CollectTasks(func(inner *Toolbox) {
		inner.SpawnResponse(ctx, func(context.Context) (any, error) {
			return nil, NewCustomError(protocol.CodeInvalidPassword, "wrong password")
		})
	})
	responses, err := group.Wait()
	require.Error(t, err)
	var custom *CustomError
	require.True(t, errors.As(err, &custom))
	assert.Equal(t, protocol.CodeInvalidPassword, custom.Code)
	require.Len(t, responses, 1)
	assert.NotNil(t, responses[0].Error)
}

func TestCollectTasks_SyncErrorResponseFails(t *testing.T) {
	tb := NewToolbox(4)
	ctx := testCtx()
	group := tb.CollectTasks(func(inner *Toolbox) {
		inner.Send(ctx, protocol.NewError(ctx.Method, protocol.CodeBadRequest, ctx.Seq, "bad params"))
	})
	_, err := group.Wait()
	var custom *CustomError
	require.True(t, errors.As(err, &custom))
	assert.Equal(t, protocol.CodeBadRequest, custom.Code)
	assert.Equal(t, "bad params", custom.Reason)
}
