// errorcode.go — 错误码: HTTP 状态码与领域错误码共用一个 uint32 空间。
//
// 领域错误码来自 5 字符 SQLSTATE (如 "R0009"), 按 36 进制解码:
//
//	"R0000" → 45349632, "R0009" → 45349641, "22P02" → 3484946
//
// 两个来源数值相同即相等。
package protocol

import (
	"net/http"
	"strconv"
	"strings"

	pkgerr "github.com/multi-agent/wsrpc/pkg/errors"
)

// ErrorCode 线上错误码。
type ErrorCode uint32

// HTTP 类错误码。
const (
	CodeBadRequest   ErrorCode = http.StatusBadRequest
	CodeUnauthorized ErrorCode = http.StatusUnauthorized
	CodeForbidden    ErrorCode = http.StatusForbidden
	CodeNotFound     ErrorCode = http.StatusNotFound
	CodeInternal     ErrorCode = http.StatusInternalServerError
)

// 领域错误码 (SQLSTATE R0000 起)。
const (
	CodeInvalidEnumLevel ErrorCode = 3484946 // 22P02

	CodeError                    ErrorCode = 45349632 // R0000
	CodeInvalidArgument          ErrorCode = 45349633 // R0001
	CodeInvalidState             ErrorCode = 45349634 // R0002
	CodeInvalidSeq               ErrorCode = 45349635 // R0003
	CodeInvalidMethod            ErrorCode = 45349636 // R0004
	CodeProtocolViolation        ErrorCode = 45349637 // R0005
	CodeMalformedRequest         ErrorCode = 45349638 // R0006
	CodeUnknownUser              ErrorCode = 45349639 // R0007
	CodeBlockedUser              ErrorCode = 45349640 // R0008
	CodeInvalidPassword          ErrorCode = 45349641 // R0009
	CodeInvalidToken             ErrorCode = 45349642 // R000A
	CodeTemporarilyUnavailable   ErrorCode = 45349643 // R000B
	CodeUnexpectedException      ErrorCode = 45349644 // R000C
	CodeBackPressureIncreased    ErrorCode = 45349645 // R000D
	CodeInvalidPublicID          ErrorCode = 45349646 // R000E
	CodeInvalidRange             ErrorCode = 45349647 // R000F
	CodeBankAccountAlreadyExists ErrorCode = 45349648 // R000G
	CodeInsufficientFunds        ErrorCode = 45349649 // R000H
	CodeLogicalError             ErrorCode = 45349654 // R000M
	CodeRestrictedUserPrivileges ErrorCode = 45349655 // R000N
	CodeIdenticalReplacement     ErrorCode = 45349656 // R000O
	CodeInvalidRecoveryQuestions ErrorCode = 45349659 // R000R
	CodeInvalidRole              ErrorCode = 45349660 // R000S
	CodeWrongRecoveryAnswers     ErrorCode = 45349661 // R000T
	CodeMessageNotDelivered      ErrorCode = 45349662 // R000U
	CodeNoReply                  ErrorCode = 45349663 // R000V
	CodeNullAttribute            ErrorCode = 45349664 // R000W
	CodeConsentMissing           ErrorCode = 45349665 // R000X
	CodeActiveSubscriptionReq    ErrorCode = 45349666 // R000Y
	CodeUsernameAlreadyTaken     ErrorCode = 45349667 // R000Z
	CodeRecoveryQuestionsNotSet  ErrorCode = 45349668 // R0010
	CodeMustSubmitAllRecovery    ErrorCode = 45349669 // R0011
	CodeInvalidRecoveryToken     ErrorCode = 45349670 // R0012
	CodeRoutingError             ErrorCode = 45349676 // R0018
	CodeUnauthorizedMessage      ErrorCode = 45349677 // R0019
	CodeAuthError                ErrorCode = 45349679 // R001B
	CodeInternalError            ErrorCode = 45349684 // R001G
)

var domainReasons = map[ErrorCode]string{
	CodeInvalidEnumLevel: "InvalidEnumLevel",

	CodeError:                    "Error",
	CodeInvalidArgument:          "InvalidArgument",
	CodeInvalidState:             "InvalidState",
	CodeInvalidSeq:               "InvalidSeq",
	CodeInvalidMethod:            "InvalidMethod",
	CodeProtocolViolation:        "ProtocolViolation",
	CodeMalformedRequest:         "MalformedRequest",
	CodeUnknownUser:              "UnknownUser",
	CodeBlockedUser:              "BlockedUser",
	CodeInvalidPassword:          "InvalidPassword",
	CodeInvalidToken:             "InvalidToken",
	CodeTemporarilyUnavailable:   "TemporarilyUnavailable",
	CodeUnexpectedException:      "UnexpectedException",
	CodeBackPressureIncreased:    "BackPressureIncreased",
	CodeInvalidPublicID:          "InvalidPublicId",
	CodeInvalidRange:             "InvalidRange",
	CodeBankAccountAlreadyExists: "BankAccountAlreadyExists",
	CodeInsufficientFunds:        "InsufficientFunds",
	CodeLogicalError:             "LogicalError",
	CodeRestrictedUserPrivileges: "RestrictedUserPrivileges",
	CodeIdenticalReplacement:     "IdenticalReplacement",
	CodeInvalidRecoveryQuestions: "InvalidRecoveryQuestions",
	CodeInvalidRole:              "InvalidRole",
	CodeWrongRecoveryAnswers:     "WrongRecoveryAnswers",
	CodeMessageNotDelivered:      "MessageNotDelivered",
	CodeNoReply:                  "NoReply",
	CodeNullAttribute:            "NullAttribute",
	CodeConsentMissing:           "ConsentMissing",
	CodeActiveSubscriptionReq:    "ActiveSubscriptionRequired",
	CodeUsernameAlreadyTaken:     "UsernameAlreadyRegistered",
	CodeRecoveryQuestionsNotSet:  "RecoveryQuestionsNotSet",
	CodeMustSubmitAllRecovery:    "MustSubmitAllRecoveryQuestions",
	CodeInvalidRecoveryToken:     "InvalidRecoveryToken",
	CodeRoutingError:             "RoutingError",
	CodeUnauthorizedMessage:      "UnauthorizedMessage",
	CodeAuthError:                "AuthError",
	CodeInternalError:            "InternalError",
}

// FromStatus HTTP 状态码 → ErrorCode, 数值不变。
func FromStatus(status int) ErrorCode { return ErrorCode(status) }

// FromSQLState 把 SQLSTATE 按 36 进制解码为 ErrorCode。
func FromSQLState(state string) (ErrorCode, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(state), 36, 32)
	if err != nil {
		return 0, pkgerr.Wrapf(err, "Protocol.FromSQLState", "undecodable sql state %q", state)
	}
	return ErrorCode(n), nil
}

// Uint32 原始数值。
func (c ErrorCode) Uint32() uint32 { return uint32(c) }

// Status 若数值落在 HTTP 状态码范围 (100..999) 内则返回它。
func (c ErrorCode) Status() (int, bool) {
	if c >= 100 && c <= 999 {
		return int(c), true
	}
	return 0, false
}

// SQLState 36 进制大写表示, FromSQLState 的逆运算。
func (c ErrorCode) SQLState() string {
	return strings.ToUpper(strconv.FormatUint(uint64(c), 36))
}

// CanonicalReason 纯查表; 未知错误码返回 ("", false)。
func (c ErrorCode) CanonicalReason() (string, bool) {
	if status, ok := c.Status(); ok {
		text := http.StatusText(status)
		return text, text != ""
	}
	reason, ok := domainReasons[c]
	return reason, ok
}

// String 便于日志输出: "404 Not Found" / "45349641 InvalidPassword"。
func (c ErrorCode) String() string {
	reason, _ := c.CanonicalReason()
	if reason == "" {
		return strconv.FormatUint(uint64(c), 10)
	}
	return strconv.FormatUint(uint64(c), 10) + " " + reason
}
