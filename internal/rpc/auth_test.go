package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multi-agent/wsrpc/internal/model"
	"github.com/multi-agent/wsrpc/internal/protocol"
	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"typical", "0login, 1alice, 2secret", map[string]string{"0": "login", "1": "alice", "2": "secret"}},
		{"no spaces and blanks", "0login,,1alice , ,2", map[string]string{"0": "login", "1": "alice", "2": ""}},
		{"later duplicate wins", "0login, 1alice, 1bob", map[string]string{"0": "login", "1": "bob"}},
		// 值内逗号没有转义, 会被切成新的一段
		{"comma inside value splits", "0login, 1a,b", map[string]string{"0": "login", "1": "a", "b": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseHeader(tt.header))
		})
	}
}

var roleEnum = model.Enum("role",
	model.EnumVariant{Name: "guest", Value: 0},
	model.EnumVariant{Name: "user", Value: 1},
	model.EnumVariant{Name: "admin", Value: 2},
)

func testAuthSchema() model.EndpointSchema {
	return model.NewEndpointSchema("Probe", 900, []model.Field{
		model.NewField("user_name", model.String),
		model.NewField("pin", model.Int),
		model.NewField("device_id", model.BigInt),
		model.NewField("remember", model.Boolean),
		model.NewField("token", model.UUID),
		model.NewField("ip", model.Inet),
		model.NewField("role", roleEnum),
		model.NewField("note", model.Optional(model.String)),
	}, nil)
}

func TestBuildParams(t *testing.T) {
	fields := ParseHeader("0probe, 1alice, 2-12, 39007199254740993, 4true, 5A1B2C3D4-0000-4000-8000-00000000000F, 610.0.0.0/8, 7ADMIN")
	params, err := BuildParams(testAuthSchema(), fields)
	require.NoError(t, err)

	assert.Equal(t, "alice", params["userName"])
	assert.Equal(t, int64(-12), params["pin"])
	assert.Equal(t, int64(9007199254740993), params["deviceId"])
	assert.Equal(t, true, params["remember"])
	assert.Equal(t, "a1b2c3d4-0000-4000-8000-00000000000f", params["token"])
	assert.Equal(t, "10.0.0.0/8", params["ip"])
	assert.Equal(t, int32(2), params["role"])
	_, hasNote := params["note"]
	assert.False(t, hasNote, "absent optional param is omitted")
}

func TestBuildParams_Rejects(t *testing.T) {
	base := map[string]string{
		"1": "alice", "2": "1", "3": "1", "4": "false",
		"5": "a1b2c3d4-0000-4000-8000-00000000000f", "6": "::1", "7": "1",
	}
	with := func(k, v string) map[string]string {
		out := make(map[string]string, len(base))
		for key, val := range base {
			out[key] = val
		}
		if v == "" {
			delete(out, k)
		} else {
			out[k] = v
		}
		return out
	}

	tests := []struct {
		name   string
		fields map[string]string
		reason string
	}{
		{"missing required", with("2", ""), "could not find param pin 2"},
		{"bad int", with("2", "abc"), "failed to parse integer: abc"},
		{"int overflow", with("2", "4294967296"), "failed to parse integer"},
		{"bad bool", with("4", "True"), "failed to parse boolean"},
		{"bad uuid", with("5", "nope"), "failed to parse uuid"},
		{"bad inet", with("6", "300.1.1.1"), "failed to parse inet"},
		{"unknown enum", with("7", "root"), "unknown role variant"},
		{"unknown enum value", with("7", "9"), "unknown role variant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildParams(testAuthSchema(), tt.fields)
			var custom *CustomError
			require.True(t, errors.As(err, &custom), "got %v", err)
			assert.Equal(t, protocol.CodeBadRequest, custom.Code)
			assert.Contains(t, custom.Reason, tt.reason)
			assert.ErrorIs(t, err, pkgerr.ErrInvalidHeader)
		})
	}
}

func TestBuildParams_UnsupportedTypeFailsLoudly(t *testing.T) {
	schema := model.NewEndpointSchema("Blob", 901, []model.Field{model.NewField("data", model.Bytea)}, nil)
	_, err := BuildParams(schema, map[string]string{"1": "abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestEncodeHeader_RoundTrip(t *testing.T) {
	type probe struct {
		UserName string `json:"userName"`
		Pin      int32  `json:"pin"`
		DeviceID int64  `json:"deviceId"`
		Remember bool   `json:"remember"`
		Token    string `json:"token"`
		IP       string `json:"ip"`
		Role     int32  `json:"role"`
		Note     string `json:"note,omitempty"`
	}
	in := probe{
		UserName: "alice", Pin: 42, DeviceID: 1 << 40, Remember: true,
		Token: "a1b2c3d4-0000-4000-8000-00000000000f", IP: "192.168.1.1", Role: 1,
	}
	header, err := EncodeHeader(testAuthSchema(), in)
	require.NoError(t, err)
	assert.Equal(t, "0probe, 1alice, 242, 31099511627776, 4true, 5a1b2c3d4-0000-4000-8000-00000000000f, 6192.168.1.1, 71", header)

	params, err := BuildParams(testAuthSchema(), ParseHeader(header))
	require.NoError(t, err)
	assert.Equal(t, "alice", params["userName"])
	assert.Equal(t, int64(42), params["pin"])
	assert.Equal(t, int32(1), params["role"])

	_, err = EncodeHeader(testAuthSchema(), probe{UserName: "x"})
	assert.NoError(t, err, "zero values are still present in JSON")

	_, err = EncodeHeader(testAuthSchema(), map[string]any{"userName": "x"})
	assert.Error(t, err)
}

func TestEndpointAuthController(t *testing.T) {
	tb := NewToolbox(4)
	ctrl := NewEndpointAuthController(tb)

	type loginReq struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	schema := model.NewEndpointSchema("Login", 10020, []model.Field{
		model.NewField("username", model.String),
		model.NewField("password", model.String),
	}, nil)
	ctrl.AddAuthEndpoint(schema, Async(func(_ context.Context, _ *Toolbox, rc RequestContext, conn *Connection, req loginReq) (map[string]int64, error) {
		if req.Password != "secret" {
			return nil, NewCustomError(protocol.CodeInvalidPassword, "invalid password")
		}
		conn.Authorize(77, 2)
		return map[string]int64{"userId": 77, "method": int64(rc.Method)}, nil
	}))

	t.Run("success", func(t *testing.T) {
		conn := NewConnection(1, "127.0.0.1")
		responses, err := ctrl.Auth(context.Background(), "0LOGIN, 1alice, 2secret", conn)
		require.NoError(t, err)
		require.Len(t, responses, 1)
		require.NotNil(t, responses[0].Immediate)
		assert.Equal(t, uint32(0), responses[0].Immediate.Seq)
		assert.Equal(t, uint32(10020), responses[0].Immediate.Method)
		assert.Equal(t, int64(77), conn.UserID())
		assert.Equal(t, uint32(2), conn.Role())
		assert.Equal(t, 0, tb.QueueLen())
	})

	tests := []struct {
		name   string
		header string
		code   protocol.ErrorCode
		reason string
		cause  error
	}{
		{"missing method", "1alice, 2secret", protocol.CodeBadRequest, "could not find method", pkgerr.ErrInvalidHeader},
		{"unknown op", "0signup, 1alice", protocol.CodeBadRequest, "could not find endpoint for method signup", pkgerr.ErrInvalidHeader},
		{"missing param", "0login, 1alice", protocol.CodeBadRequest, "could not find param password 2", pkgerr.ErrInvalidHeader},
		{"wrong password", "0login, 1alice, 2nope", protocol.CodeInvalidPassword, "invalid password", pkgerr.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := NewConnection(2, "127.0.0.1")
			_, err := ctrl.Auth(context.Background(), tt.header, conn)
			var custom *CustomError
			require.True(t, errors.As(err, &custom), "got %v", err)
			assert.Equal(t, tt.code, custom.Code)
			assert.Contains(t, custom.Reason, tt.reason)
			assert.ErrorIs(t, err, tt.cause)
			assert.False(t, conn.Authenticated())
		})
	}
}

func TestAllowAll(t *testing.T) {
	conn := NewConnection(3, "")
	responses, err := AllowAll{}.Auth(context.Background(), "garbage", conn)
	require.NoError(t, err)
	assert.Empty(t, responses)
	assert.False(t, conn.Authenticated())
}
