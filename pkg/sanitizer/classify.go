package sanitizer

import (
	"regexp"
	"strings"
)

// StatementClass is the coarse category of a SQL statement.
type StatementClass int

const (
	ClassDDL     StatementClass = iota // CREATE, DROP, ALTER, TRUNCATE
	ClassDML                           // INSERT, UPDATE, DELETE, REPLACE, MERGE
	ClassDQL                           // SELECT, WITH...SELECT, VALUES
	ClassTCL                           // BEGIN, COMMIT, ROLLBACK, SAVEPOINT
	ClassDCL                           // GRANT, REVOKE, roles and users
	ClassUtility                       // SHOW, EXPLAIN, SET, PRAGMA, VACUUM
)

// String returns the label reported in WRITE_NOT_ALLOWED details.
func (c StatementClass) String() string {
	switch c {
	case ClassDDL:
		return "DDL"
	case ClassDML:
		return "DML"
	case ClassDQL:
		return "DQL"
	case ClassTCL:
		return "TCL"
	case ClassDCL:
		return "DCL"
	case ClassUtility:
		return "UTILITY"
	default:
		return "UNKNOWN"
	}
}

type classPatterns struct {
	class    StatementClass
	patterns []*regexp.Regexp
}

// DCL comes before DDL so that CREATE USER is not reported as DDL.
var textClassifier = []classPatterns{
	{ClassDCL, compileAll(
		`(?i)^\s*GRANT\s+`,
		`(?i)^\s*REVOKE\s+`,
		`(?i)^\s*DENY\s+`,
		`(?i)^\s*(CREATE|DROP|ALTER|RENAME)\s+(USER|ROLE)\s+`,
	)},
	{ClassDDL, compileAll(
		`(?i)^\s*CREATE\s+`,
		`(?i)^\s*DROP\s+`,
		`(?i)^\s*ALTER\s+`,
		`(?i)^\s*TRUNCATE\s+`,
		`(?i)^\s*COMMENT\s+ON\s+`,
		`(?i)^\s*RENAME\s+`,
	)},
	{ClassDML, compileAll(
		`(?i)^\s*INSERT\s+`,
		`(?i)^\s*UPDATE\s+`,
		`(?i)^\s*DELETE\s+`,
		`(?i)^\s*REPLACE\s+`,
		`(?i)^\s*MERGE\s+`,
		`(?i)^\s*UPSERT\s+`,
		`(?i)^\s*COPY\s+`,
		`(?i)^\s*LOAD\s+DATA\s+`,
	)},
	{ClassTCL, compileAll(
		`(?i)^\s*BEGIN\b`,
		`(?i)^\s*START\s+TRANSACTION\b`,
		`(?i)^\s*COMMIT\b`,
		`(?i)^\s*ROLLBACK\b`,
		`(?i)^\s*SAVEPOINT\s+`,
		`(?i)^\s*RELEASE\s+SAVEPOINT\s+`,
		`(?i)^\s*SET\s+TRANSACTION\s+`,
	)},
	{ClassDQL, compileAll(
		`(?i)^\s*SELECT\b`,
		`(?i)^\s*WITH\s+`,
		`(?i)^\s*\(\s*SELECT\b`,
		`(?i)^\s*VALUES\b`,
		`(?i)^\s*TABLE\s+`,
	)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// ClassifyText classifies a statement by its leading keywords. It is used
// when a parser rejects a statement or does not model its node type.
// Anything unrecognized is UTILITY.
func ClassifyText(sql string) StatementClass {
	sql = stripLeadingComments(sql)
	for _, cp := range textClassifier {
		for _, p := range cp.patterns {
			if p.MatchString(sql) {
				return cp.class
			}
		}
	}
	return ClassUtility
}

func stripLeadingComments(sql string) string {
	for {
		sql = strings.TrimSpace(sql)
		switch {
		case strings.HasPrefix(sql, "--"), strings.HasPrefix(sql, "#"):
			i := strings.IndexByte(sql, '\n')
			if i < 0 {
				return ""
			}
			sql = sql[i+1:]
		case strings.HasPrefix(sql, "/*"):
			i := strings.Index(sql, "*/")
			if i < 0 {
				return ""
			}
			sql = sql[i+2:]
		default:
			return sql
		}
	}
}
