package sanitizer

import (
	"io"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

const mysqlPlanPrefix = "EXPLAIN FORMAT=JSON "

// mysqlDialect has no row-to-JSON aggregate to lean on, so its data form is
// the rewritten statement itself and rows are encoded by the session.
type mysqlDialect struct {
	limits Limits
}

func (d *mysqlDialect) Kind() models.BackendKind { return models.KindMySQL }

func (d *mysqlDialect) Sanitize(raw string, requested *int) (*models.SanitizedQuery, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, emptyStatement()
	}

	tokens := sqlparser.NewStringTokenizer(raw)
	var stmts []sqlparser.Statement
	for {
		stmt, err := sqlparser.ParseNext(tokens)
		if err == io.EOF {
			break
		}
		if err != nil {
			// The grammar does not cover every statement MySQL accepts (GRANT,
			// LOAD DATA, SET PASSWORD), so a failure after the first statement
			// still means there was a second one.
			if len(stmts) > 0 {
				return nil, errors.MultipleStatements(len(stmts) + 1)
			}
			if n := mysqlPieces(raw); n > 1 {
				return nil, errors.MultipleStatements(n)
			}
			if isWriteClass(ClassifyText(raw)) {
				return nil, errors.WriteNotAllowed(ClassifyText(raw).String())
			}
			return nil, errors.SyntaxError(err)
		}
		stmts = append(stmts, stmt)
	}
	switch n := len(stmts); {
	case n == 0:
		return nil, emptyStatement()
	case n > 1:
		return nil, errors.MultipleStatements(n)
	}

	sel, ok := stmts[0].(sqlparser.SelectStatement)
	if !ok {
		return nil, errors.WriteNotAllowed(mysqlClass(stmts[0], raw).String())
	}
	if err := mysqlCheckLocks(sel); err != nil {
		return nil, err
	}

	original := sqlparser.String(sel)

	target := mysqlLimitTarget(sel)
	literal, hasLiteral := mysqlLimitLiteral(*target)
	limit := effectiveLimit(literal, hasLiteral, d.limits.Server(requested))
	rowcount := sqlparser.NewIntVal([]byte(strconv.Itoa(limit)))
	if *target == nil {
		*target = &sqlparser.Limit{Rowcount: rowcount}
	} else {
		(*target).Rowcount = rowcount
	}

	return &models.SanitizedQuery{
		EffectiveLimit: limit,
		PlanForm:       mysqlPlanPrefix + original,
		DataForm:       sqlparser.String(sel),
	}, nil
}

// mysqlPieces counts the non-blank semicolon-separated statements in raw,
// honouring quotes and comments.
func mysqlPieces(raw string) int {
	pieces, err := sqlparser.SplitStatementToPieces(raw)
	if err != nil {
		return 0
	}
	n := 0
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}

// mysqlLimitTarget returns the LIMIT slot that bounds the whole result.
func mysqlLimitTarget(sel sqlparser.SelectStatement) **sqlparser.Limit {
	switch s := sel.(type) {
	case *sqlparser.Select:
		return &s.Limit
	case *sqlparser.Union:
		return &s.Limit
	case *sqlparser.ParenSelect:
		return mysqlLimitTarget(s.Select)
	}
	var none *sqlparser.Limit
	return &none
}

func mysqlLimitLiteral(limit *sqlparser.Limit) (int64, bool) {
	if limit == nil {
		return 0, false
	}
	val, ok := limit.Rowcount.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.IntVal {
		return 0, false
	}
	n, err := strconv.ParseInt(string(val.Val), 10, 64)
	if err != nil {
		// Out of int64 range still only ever means "more than the cap".
		return int64(models.MaxLimit) + 1, true
	}
	return n, true
}

// mysqlCheckLocks rejects FOR UPDATE and LOCK IN SHARE MODE at any depth.
func mysqlCheckLocks(sel sqlparser.SelectStatement) error {
	return sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		var lock string
		switch n := node.(type) {
		case *sqlparser.Select:
			lock = n.Lock
		case *sqlparser.Union:
			lock = n.Lock
		}
		if lock != "" {
			return false, errors.WriteNotAllowed(ClassDML.String()).
				WithDetail("clause", strings.ToUpper(strings.TrimSpace(lock)))
		}
		return true, nil
	}, sel)
}

func mysqlClass(stmt sqlparser.Statement, raw string) StatementClass {
	switch stmt.(type) {
	case *sqlparser.Insert, *sqlparser.Update, *sqlparser.Delete:
		return ClassDML
	case *sqlparser.DDL:
		return ClassDDL
	case *sqlparser.Begin, *sqlparser.Commit, *sqlparser.Rollback:
		return ClassTCL
	case *sqlparser.Set, *sqlparser.Show, *sqlparser.Use, *sqlparser.OtherRead, *sqlparser.OtherAdmin:
		return ClassUtility
	}
	if class := ClassifyText(raw); class != ClassDQL {
		return class
	}
	return ClassUtility
}

func isWriteClass(c StatementClass) bool {
	switch c {
	case ClassDDL, ClassDML, ClassTCL, ClassDCL:
		return true
	}
	return false
}
