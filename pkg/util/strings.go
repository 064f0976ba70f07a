// strings.go — 字符串工具。
package util

import (
	"strings"
	"unicode"
)

// ToCamelCase 把 snake_case / kebab-case 转为 lowerCamelCase。
//
//	"user_public_id" → "userPublicId"
func ToCamelCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	upper := false
	for _, r := range s {
		if r == '_' || r == '-' || r == ' ' {
			upper = b.Len() > 0
			continue
		}
		switch {
		case upper:
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		case b.Len() == 0:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
