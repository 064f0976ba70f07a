package localdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent/wsrpc/internal/config"
	"github.com/multi-agent/wsrpc/internal/database"
	"github.com/multi-agent/wsrpc/internal/protocol"
	"github.com/multi-agent/wsrpc/internal/rpc"
)

func TestParseToken(t *testing.T) {
	assert.Nil(t, parseToken("NULL"))
	assert.Equal(t, []byte{0xde, 0xad}, parseToken(`\xdead`))
	assert.Equal(t, `\xzz`, parseToken(`\xzz`))
	assert.Equal(t, "alice", parseToken("alice"))
}

func TestToPayload(t *testing.T) {
	p := toPayload(database.Rows{
		{"username": "alice", "id": int64(1)},
		{"username": "bob", "id": int64(2)},
	})
	assert.Equal(t, []string{"id", "username"}, p.Labels)
	assert.Equal(t, [][]any{{int64(1), "alice"}, {int64(2), "bob"}}, p.Rows)

	blob := toPayload(database.Rows{{"salt": []byte("pepper")}})
	assert.Equal(t, [][]any{{`\x706570706572`}}, blob.Rows)

	empty := toPayload(nil)
	assert.Empty(t, empty.Labels)
	assert.Empty(t, empty.Rows)
}

// 端到端: LocalClient → rpc.Server(localdb) → SQLite。
func TestLocalClientAgainstSQLiteService(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sqlite, err := database.NewSQLiteClient(ctx, ":memory:")
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(sqlite.Close)
	_, err = sqlite.Query(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT NOT NULL, salt BLOB)`)
	require.NoError(t, err)
	_, err = sqlite.Query(ctx, `CREATE TRIGGER users_guard BEFORE INSERT ON users
		WHEN NEW.username = 'root' BEGIN SELECT RAISE(ABORT, 'R0008: blocked user'); END`)
	require.NoError(t, err)

	srv := rpc.NewServer(&config.Config{Host: "127.0.0.1", Port: 0, QueueSize: 16, MaxMessageBytes: 1 << 20, WriteTimeoutSec: 5}, nil)
	srv.SetDB(sqlite)
	Register(srv)

	serveCtx, stop := context.WithCancel(context.Background())
	ln, err := srv.Listen(serveCtx)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(serveCtx, ln) }()
	t.Cleanup(func() {
		stop()
		<-done
	})

	client, err := database.NewLocalClient(ctx, ln.Addr().String(), 2)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	_, err = client.Query(ctx, `INSERT INTO users (id, username, salt) VALUES (?, ?, ?)`, int64(1), "alice", []byte("pepper"))
	require.NoError(t, err)

	rows, err := client.Query(ctx, `SELECT id, username, salt FROM users WHERE username = ?`, "alice")
	require.NoError(t, err)
	row, err := rows.First()
	require.NoError(t, err)
	id, err := row.Int64("id")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	name, _ := row.String("username")
	assert.Equal(t, "alice", name)
	salt, err := row.Bytes("salt")
	require.NoError(t, err)
	assert.Equal(t, []byte("pepper"), salt)

	_, err = client.Query(ctx, `INSERT INTO users (id, username) VALUES (?, ?)`, int64(2), "root")
	require.Error(t, err)
	state, ok := database.SQLStateOf(err)
	require.True(t, ok)
	assert.Equal(t, "R0008", state)
	code, err := protocol.FromSQLState(state)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeBlockedUser, code)
}
