package pool

import (
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MaskDSN hides credentials in a connection string so it can be logged.
func MaskDSN(dsn string) string {
	if dsn == "" || dsn == ":memory:" {
		return dsn
	}

	// go-sql-driver form: user:pass@tcp(host:3306)/db
	if strings.Contains(dsn, "@tcp(") || strings.Contains(dsn, "@unix(") {
		if cfg, err := mysql.ParseDSN(dsn); err == nil {
			if cfg.Passwd != "" {
				cfg.Passwd = "*****"
			}
			return cfg.FormatDSN()
		}
	}

	// libpq keyword form: host=db user=app password=secret
	if !strings.Contains(dsn, "://") && strings.Contains(dsn, "=") {
		fields := strings.Fields(dsn)
		for i, f := range fields {
			if k, _, ok := strings.Cut(f, "="); ok && isSensitiveKey(k) {
				fields[i] = k + "=*****"
			}
		}
		return strings.Join(fields, " ")
	}

	u, err := url.Parse(dsn)
	if err == nil && looksLikeURL(u) {
		if ui := u.User; ui != nil {
			user := ui.Username()
			if _, hasPass := ui.Password(); hasPass {
				u.User = url.UserPassword(user, "*****")
			} else {
				u.User = url.User(user)
			}
		}

		q := u.Query()
		for k := range q {
			if isSensitiveKey(k) {
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

func looksLikeURL(u *url.URL) bool {
	return u.Scheme != "" || u.Host != "" || u.User != nil || u.RawQuery != ""
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "pass"),
		strings.Contains(key, "token"),
		strings.Contains(key, "secret"),
		strings.HasSuffix(key, "key"):
		return true
	default:
		return false
	}
}

// IsMotherDuckDSN reports whether the DSN targets MotherDuck.
func IsMotherDuckDSN(dsn string) bool {
	if strings.HasPrefix(dsn, "md:") {
		return true
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return false
	}
	if u.Scheme == "motherduck" {
		return true
	}
	return u.Scheme == "duckdb" && strings.HasPrefix(u.Host, "motherduck")
}

// NormalizeDuckDBDSN converts the URL spellings accepted in configuration into
// the path form the DuckDB driver opens:
//
//	duckdb:///var/data/app.db        -> /var/data/app.db
//	duckdb://:memory:                -> "" (in-memory)
//	motherduck://analytics           -> md:analytics
//	duckdb://motherduck/analytics    -> md:analytics
//
// A non-empty token is appended as motherduck_token unless already present.
func NormalizeDuckDBDSN(dsn, token string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == ":memory:" || dsn == "duckdb://:memory:" || dsn == "duckdb://" {
		return ""
	}

	if IsMotherDuckDSN(dsn) && !strings.HasPrefix(dsn, "md:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		db := strings.TrimPrefix(u.Path, "/")
		if u.Scheme == "motherduck" {
			db = strings.TrimPrefix(u.Host+u.Path, "/")
		}
		dsn = "md:" + db
		if u.RawQuery != "" {
			dsn += "?" + u.RawQuery
		}
	} else if rest, ok := strings.CutPrefix(dsn, "duckdb://"); ok {
		dsn = rest
	}

	if token != "" && IsMotherDuckDSN(dsn) && !strings.Contains(dsn, "motherduck_token=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "motherduck_token=" + url.QueryEscape(token)
	}
	return dsn
}
