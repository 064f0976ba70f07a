// endpoints.go — auth 服务的端点描述与请求/响应类型。
package auth

import (
	"fmt"
	"strings"

	"github.com/multi-agent/wsrpc/internal/model"
)

// 端点编码。
const (
	MethodSignup    uint32 = 10010
	MethodLogin     uint32 = 10020
	MethodAuthorize uint32 = 10030
)

// Service 可被授权访问的服务。
type Service int32

const (
	ServiceAuth  Service = 1
	ServiceUser  Service = 2
	ServiceAdmin Service = 3
)

func (s Service) String() string {
	switch s {
	case ServiceAuth:
		return "auth"
	case ServiceUser:
		return "user"
	case ServiceAdmin:
		return "admin"
	}
	return "unknown"
}

// ParseService 按名称解析服务 (大小写不敏感)。
func ParseService(name string) (Service, error) {
	for _, s := range []Service{ServiceAuth, ServiceUser, ServiceAdmin} {
		if strings.EqualFold(name, s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown service: %q", name)
}

// Role 用户角色, 0 表示未认证。
type Role int32

const (
	RoleGuest Role = iota
	RoleUser
	RoleAdmin
	RoleDeveloper
)

var serviceEnum = model.Enum("service",
	model.EnumVariant{Name: "auth", Value: int32(ServiceAuth)},
	model.EnumVariant{Name: "user", Value: int32(ServiceUser)},
	model.EnumVariant{Name: "admin", Value: int32(ServiceAdmin)},
)

type SignupRequest struct {
	Username      string `json:"username" validate:"max=64"`
	Password      string `json:"password" validate:"max=256"`
	Email         string `json:"email" validate:"max=256"`
	Phone         string `json:"phone" validate:"max=32"`
	AgreedTos     bool   `json:"agreedTos"`
	AgreedPrivacy bool   `json:"agreedPrivacy"`
}

type SignupResponse struct {
	Username     string `json:"username"`
	UserPublicID int64  `json:"userPublicId"`
}

type LoginRequest struct {
	Username    string  `json:"username" validate:"max=64"`
	Password    string  `json:"password" validate:"max=256"`
	ServiceCode Service `json:"serviceCode"`
	DeviceID    string  `json:"deviceId" validate:"max=128"`
	DeviceOS    string  `json:"deviceOs" validate:"max=64"`
}

type LoginResponse struct {
	Username     string `json:"username"`
	UserPublicID int64  `json:"userPublicId"`
	UserToken    string `json:"userToken"`
	AdminToken   string `json:"adminToken"`
}

type AuthorizeRequest struct {
	Username    string  `json:"username" validate:"max=64"`
	Token       string  `json:"token"`
	ServiceCode Service `json:"serviceCode"`
	DeviceID    string  `json:"deviceId" validate:"max=128"`
	DeviceOS    string  `json:"deviceOs" validate:"max=64"`
}

type AuthorizeResponse struct {
	Success bool `json:"success"`
}

// SignupSchema 10010。
func SignupSchema() model.EndpointSchema {
	return model.NewEndpointSchema("Signup", MethodSignup,
		[]model.Field{
			model.NewField("username", model.String),
			model.NewField("password", model.String),
			model.NewField("email", model.String),
			model.NewField("phone", model.String),
			model.NewField("agreed_tos", model.Boolean),
			model.NewField("agreed_privacy", model.Boolean),
		},
		[]model.Field{
			model.NewField("username", model.String),
			model.NewField("user_public_id", model.BigInt),
		},
	)
}

// LoginSchema 10020。
func LoginSchema() model.EndpointSchema {
	return model.NewEndpointSchema("Login", MethodLogin,
		[]model.Field{
			model.NewField("username", model.String),
			model.NewField("password", model.String),
			model.NewField("service_code", serviceEnum),
			model.NewField("device_id", model.String),
			model.NewField("device_os", model.String),
		},
		[]model.Field{
			model.NewField("username", model.String),
			model.NewField("user_public_id", model.BigInt),
			model.NewField("user_token", model.UUID),
			model.NewField("admin_token", model.UUID),
		},
	)
}

// AuthorizeSchema 10030。握手头形如:
//
//	0authorize, 1alice, 2<token>, 32, 4<deviceId>, 5android
func AuthorizeSchema() model.EndpointSchema {
	return model.NewEndpointSchema("Authorize", MethodAuthorize,
		[]model.Field{
			model.NewField("username", model.String),
			model.NewField("token", model.UUID),
			model.NewField("service_code", serviceEnum),
			model.NewField("device_id", model.String),
			model.NewField("device_os", model.String),
		},
		[]model.Field{
			model.NewField("success", model.Boolean),
		},
	)
}

// Endpoints 本服务的全部端点。
func Endpoints() []model.EndpointSchema {
	return []model.EndpointSchema{SignupSchema(), LoginSchema(), AuthorizeSchema()}
}

// Describe 服务描述。
func Describe() model.Service {
	return model.Service{Name: "auth", ID: uint32(ServiceAuth), Endpoints: Endpoints()}
}
