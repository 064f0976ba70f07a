// handler.go — Signup / Login / Authorize 处理器。
//
// 全部通过 rpc.Async 异步执行: 参数校验失败返回 400 CustomError,
// 存储过程抛出的 R00xx 由 rpc 层映射为对应领域错误码。
package auth

import (
	"context"
	"crypto/sha256"
	"strings"

	"github.com/google/uuid"

	"github.com/multi-agent/wsrpc/internal/idgen"
	"github.com/multi-agent/wsrpc/internal/protocol"
	"github.com/multi-agent/wsrpc/internal/rpc"
	"github.com/multi-agent/wsrpc/pkg/logger"
)

// Handlers auth 端点处理器集合。
type Handlers struct {
	ids           *idgen.Snowflake
	acceptService Service // Authorize 只接受该服务
}

// NewHandlers 创建处理器; acceptService 为 Authorize 允许的服务。
func NewHandlers(ids *idgen.Snowflake, acceptService Service) *Handlers {
	return &Handlers{ids: ids, acceptService: acceptService}
}

// Register 注册到服务器; ctrl 非 nil 时同时作为握手认证端点。
func Register(server *rpc.Server, ctrl *rpc.EndpointAuthController, h *Handlers) {
	signup := rpc.Async(h.Signup)
	login := rpc.Async(h.Login)
	authorize := rpc.Async(h.Authorize)

	server.AddHandler(SignupSchema(), signup)
	server.AddHandler(LoginSchema(), login)
	server.AddHandler(AuthorizeSchema(), authorize)
	if ctrl != nil {
		ctrl.AddAuthEndpoint(SignupSchema(), signup)
		ctrl.AddAuthEndpoint(LoginSchema(), login)
		ctrl.AddAuthEndpoint(AuthorizeSchema(), authorize)
	}
}

// hashPassword sha256(password || salt)。
func hashPassword(password string, salt []byte) []byte {
	sum := sha256.New()
	sum.Write([]byte(password))
	sum.Write(salt)
	return sum.Sum(nil)
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func badRequest(reason string) error {
	return rpc.NewCustomError(protocol.CodeBadRequest, reason)
}

// Signup 注册新用户。
func (h *Handlers) Signup(ctx context.Context, tb *rpc.Toolbox, _ rpc.RequestContext, conn *rpc.Connection, req SignupRequest) (SignupResponse, error) {
	username := normalizeUsername(req.Username)
	switch {
	case !req.AgreedTos:
		return SignupResponse{}, badRequest("terms of service not consented")
	case !req.AgreedPrivacy:
		return SignupResponse{}, badRequest("privacy policy not consented")
	case username == "":
		return SignupResponse{}, badRequest("empty username not allowed")
	case strings.TrimSpace(req.Password) == "":
		return SignupResponse{}, badRequest("empty password not allowed")
	case strings.TrimSpace(req.Email) == "":
		return SignupResponse{}, badRequest("invalid email")
	case strings.TrimSpace(req.Phone) == "":
		return SignupResponse{}, badRequest("invalid phone number")
	}

	salt := uuid.New()
	publicID := h.ids.Next()
	userID, err := repository{db: tb.DB()}.signup(ctx, signupRecord{
		PublicID:      publicID,
		Username:      username,
		Email:         strings.TrimSpace(req.Email),
		Phone:         strings.TrimSpace(req.Phone),
		PasswordHash:  hashPassword(req.Password, salt[:]),
		PasswordSalt:  salt[:],
		AgreedTos:     req.AgreedTos,
		AgreedPrivacy: req.AgreedPrivacy,
		IPAddress:     conn.Address,
	})
	if err != nil {
		return SignupResponse{}, err
	}
	logger.FromContext(ctx).Info("auth: user signed up", logger.FieldUserID, userID, logger.FieldName, username)
	return SignupResponse{Username: username, UserPublicID: publicID}, nil
}

// Login 校验密码并签发 user/admin token。
func (h *Handlers) Login(ctx context.Context, tb *rpc.Toolbox, _ rpc.RequestContext, conn *rpc.Connection, req LoginRequest) (LoginResponse, error) {
	username := normalizeUsername(req.Username)
	switch {
	case username == "":
		return LoginResponse{}, badRequest("invalid username")
	case strings.TrimSpace(req.Password) == "":
		return LoginResponse{}, badRequest("invalid password")
	case strings.TrimSpace(req.DeviceID) == "":
		return LoginResponse{}, badRequest("invalid device id")
	case strings.TrimSpace(req.DeviceOS) == "":
		return LoginResponse{}, badRequest("invalid device os")
	}

	repo := repository{db: tb.DB()}
	salt, err := repo.passwordSalt(ctx, username)
	if err != nil {
		return LoginResponse{}, err
	}
	auth, err := repo.authenticate(ctx, username, hashPassword(req.Password, salt),
		req.ServiceCode, req.DeviceID, req.DeviceOS, conn.Address)
	if err != nil {
		return LoginResponse{}, err
	}

	userToken, adminToken := uuid.New(), uuid.New()
	if err := repo.setToken(ctx, auth.UserID, userToken, adminToken, req.ServiceCode); err != nil {
		return LoginResponse{}, err
	}
	logger.FromContext(ctx).Info("auth: user logged in", logger.FieldUserID, auth.UserID, logger.FieldName, username)
	return LoginResponse{
		Username:     username,
		UserPublicID: auth.UserPublicID,
		UserToken:    userToken.String(),
		AdminToken:   adminToken.String(),
	}, nil
}

// Authorize 以 token 认证当前连接, 成功后写入 user_id / role。
func (h *Handlers) Authorize(ctx context.Context, tb *rpc.Toolbox, _ rpc.RequestContext, conn *rpc.Connection, req AuthorizeRequest) (AuthorizeResponse, error) {
	username := normalizeUsername(req.Username)
	if req.ServiceCode != h.acceptService {
		return AuthorizeResponse{}, rpc.Errorf(protocol.CodeForbidden,
			"Invalid service, only %s %d permitted", h.acceptService, h.acceptService)
	}
	switch {
	case username == "":
		return AuthorizeResponse{}, badRequest("invalid username")
	case strings.TrimSpace(req.Token) == "":
		return AuthorizeResponse{}, badRequest("invalid token")
	case strings.TrimSpace(req.DeviceID) == "":
		return AuthorizeResponse{}, badRequest("invalid device id")
	case strings.TrimSpace(req.DeviceOS) == "":
		return AuthorizeResponse{}, badRequest("invalid device os")
	}
	token, err := uuid.Parse(strings.TrimSpace(req.Token))
	if err != nil {
		return AuthorizeResponse{}, badRequest("invalid token")
	}

	data, err := repository{db: tb.DB()}.authorize(ctx, username, token,
		req.ServiceCode, req.DeviceID, req.DeviceOS, conn.Address)
	if err != nil {
		return AuthorizeResponse{}, err
	}
	conn.Authorize(data.UserID, uint32(data.Role))
	logger.FromContext(ctx).Info("auth: connection authorized",
		logger.FieldUserID, data.UserID,
		logger.FieldRole, data.Role,
	)
	return AuthorizeResponse{Success: true}, nil
}
