// repository.go — auth 存储过程调用 (api schema 下的 fun_auth_*)。
//
// 过程内的业务失败以 SQLSTATE R00xx 抛出, 原样向上返回, 由 rpc 层映射错误码。
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/multi-agent/wsrpc/internal/database"
)

const (
	stmtSignup          = "SELECT * FROM api.fun_auth_signup($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)"
	stmtGetPasswordSalt = "SELECT * FROM api.fun_auth_get_password_salt($1)"
	stmtAuthenticate    = "SELECT * FROM api.fun_auth_authenticate($1, $2, $3, $4, $5, $6)"
	stmtSetToken        = "SELECT * FROM api.fun_auth_set_token($1, $2, $3, $4)"
	stmtAuthorize       = "SELECT * FROM api.fun_auth_authorize($1, $2, $3, $4, $5, $6)"
)

type signupRecord struct {
	PublicID          int64
	Username          string
	Email             string
	Phone             string
	PasswordHash      []byte
	PasswordSalt      []byte
	Age               int32
	PreferredLanguage string
	AgreedTos         bool
	AgreedPrivacy     bool
	IPAddress         string
}

type repository struct {
	db database.DB
}

func (r repository) signup(ctx context.Context, rec signupRecord) (int64, error) {
	rows, err := r.db.Query(ctx, stmtSignup,
		rec.PublicID, rec.Username, rec.Email, rec.Phone,
		rec.PasswordHash, rec.PasswordSalt, rec.Age, rec.PreferredLanguage,
		rec.AgreedTos, rec.AgreedPrivacy, rec.IPAddress,
	)
	if err != nil {
		return 0, err
	}
	row, err := rows.First()
	if err != nil {
		return 0, fmt.Errorf("fun_auth_signup: %w", err)
	}
	return row.Int64("user_id")
}

func (r repository) passwordSalt(ctx context.Context, username string) ([]byte, error) {
	rows, err := r.db.Query(ctx, stmtGetPasswordSalt, username)
	if err != nil {
		return nil, err
	}
	row, err := rows.First()
	if err != nil {
		return nil, fmt.Errorf("fun_auth_get_password_salt: %w", err)
	}
	return row.Bytes("salt")
}

type authenticated struct {
	UserID       int64
	UserPublicID int64
}

func (r repository) authenticate(ctx context.Context, username string, passwordHash []byte, service Service, deviceID, deviceOS, ip string) (authenticated, error) {
	rows, err := r.db.Query(ctx, stmtAuthenticate, username, passwordHash, int32(service), deviceID, deviceOS, ip)
	if err != nil {
		return authenticated{}, err
	}
	row, err := rows.First()
	if err != nil {
		return authenticated{}, fmt.Errorf("fun_auth_authenticate: %w", err)
	}
	userID, err := row.Int64("user_id")
	if err != nil {
		return authenticated{}, err
	}
	publicID, err := row.Int64("user_public_id")
	if err != nil {
		return authenticated{}, err
	}
	return authenticated{UserID: userID, UserPublicID: publicID}, nil
}

func (r repository) setToken(ctx context.Context, userID int64, userToken, adminToken uuid.UUID, service Service) error {
	_, err := r.db.Query(ctx, stmtSetToken, userID, userToken.String(), adminToken.String(), int32(service))
	return err
}

type authorized struct {
	UserID int64
	Role   Role
}

func (r repository) authorize(ctx context.Context, username string, token uuid.UUID, service Service, deviceID, deviceOS, ip string) (authorized, error) {
	rows, err := r.db.Query(ctx, stmtAuthorize, username, token.String(), service.String(), deviceID, deviceOS, ip)
	if err != nil {
		return authorized{}, err
	}
	row, err := rows.First()
	if err != nil {
		return authorized{}, fmt.Errorf("fun_auth_authorize: %w", err)
	}
	userID, err := row.Int64("user_id")
	if err != nil {
		return authorized{}, err
	}
	role, err := roleOf(row)
	if err != nil {
		return authorized{}, err
	}
	return authorized{UserID: userID, Role: role}, nil
}

// roleOf role 列在 PostgreSQL 中是枚举 (文本), 其他后端可能是整数。
func roleOf(row database.Row) (Role, error) {
	if n, err := row.Int64("role"); err == nil {
		return Role(n), nil
	}
	name, err := row.String("role")
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(name) {
	case "guest":
		return RoleGuest, nil
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	case "developer":
		return RoleDeveloper, nil
	}
	return 0, fmt.Errorf("unknown role %q", name)
}
