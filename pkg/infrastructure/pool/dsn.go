package pool

import (
	"net/url"
	"strings"
)

// maskDSN hides credentials but keeps enough of the DSN to be recognisable in
// logs. Paths keep their first and last three runes.
func maskDSN(dsn string) string {
	if dsn == "" || dsn == ":memory:" {
		return dsn
	}

	if u, err := url.Parse(dsn); err == nil && (u.Scheme != "" || u.User != nil || u.RawQuery != "") {
		if u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "*****")
			}
		}
		q := u.Query()
		for k := range q {
			if isSecret(k) {
				q.Set(k, "*****")
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	runes := []rune(dsn)
	if len(runes) <= 10 {
		return "***"
	}
	return string(runes[:3]) + "***" + string(runes[len(runes)-3:])
}

func isSecret(key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "pass") ||
		strings.Contains(key, "token") ||
		strings.Contains(key, "secret") ||
		strings.HasSuffix(key, "key")
}
