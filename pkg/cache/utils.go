package cache

import (
	"fmt"
	"strings"
)

// GenerateKey creates a cache key with prefix and ID.
func GenerateKey(prefix string, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}

// GenerateKeyWithParams joins prefix and params with '|'.
// Params are stringified with %v; a '|' inside a param is escaped.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range params {
		b.WriteByte('|')
		b.WriteString(strings.ReplaceAll(fmt.Sprintf("%v", p), "|", `\|`))
	}
	return b.String()
}
