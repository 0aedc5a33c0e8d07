package sanitizer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

const (
	postgresPlanTemplate = "EXPLAIN (FORMAT JSON) %s"
	postgresDataTemplate = "WITH result_set AS (%s) SELECT COALESCE(JSON_AGG(result_set.*), '[]'::json)::text FROM result_set"
	duckdbDataTemplate   = "WITH result_set AS (%s) SELECT CAST(json_group_array(result_set) AS VARCHAR) FROM result_set"
)

// postgresDialect parses with the PostgreSQL grammar. DuckDB shares it and
// differs only in the aggregate used by the data form.
type postgresDialect struct {
	kind         models.BackendKind
	limits       Limits
	dataTemplate string
}

func (d *postgresDialect) Kind() models.BackendKind { return d.kind }

func (d *postgresDialect) Sanitize(raw string, requested *int) (*models.SanitizedQuery, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, emptyStatement()
	}
	tree, err := pg_query.Parse(raw)
	if err != nil {
		return nil, errors.SyntaxError(err)
	}
	switch n := len(tree.GetStmts()); {
	case n == 0:
		return nil, emptyStatement()
	case n > 1:
		return nil, errors.MultipleStatements(n)
	}

	stmt := tree.GetStmts()[0].GetStmt()
	sel := stmt.GetSelectStmt()
	if sel == nil {
		return nil, errors.WriteNotAllowed(classifyNode(stmt, raw).String())
	}
	if err := checkReadOnly(raw); err != nil {
		return nil, err
	}

	original, err := pg_query.Deparse(tree)
	if err != nil {
		return nil, errors.SyntaxError(err)
	}

	literal, hasLiteral := pgLimitLiteral(sel)
	limit := effectiveLimit(literal, hasLiteral, d.limits.Server(requested))
	sel.LimitCount = pg_query.MakeAConstIntNode(int64(limit), -1)
	sel.LimitOption = pg_query.LimitOption_LIMIT_OPTION_COUNT

	rewritten, err := pg_query.Deparse(tree)
	if err != nil {
		return nil, errors.SyntaxError(err)
	}

	return &models.SanitizedQuery{
		EffectiveLimit: limit,
		PlanForm:       fmt.Sprintf(postgresPlanTemplate, original),
		DataForm:       fmt.Sprintf(d.dataTemplate, rewritten),
	}, nil
}

// pgLimitLiteral reads an integer LIMIT / FETCH FIRST count. LIMIT ALL,
// LIMIT NULL and expressions report no literal.
func pgLimitLiteral(sel *pg_query.SelectStmt) (int64, bool) {
	c := sel.GetLimitCount().GetAConst()
	if c == nil || c.GetIsnull() {
		return 0, false
	}
	if iv := c.GetIval(); iv != nil {
		return int64(iv.GetIval()), true
	}
	if fv := c.GetFval(); fv != nil {
		if n, err := strconv.ParseInt(fv.GetFval(), 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(fv.GetFval(), 64); err == nil {
			if f > float64(models.MaxLimit) {
				return int64(models.MaxLimit) + 1, true
			}
			return int64(f), true
		}
	}
	return 0, false
}

// Node types below a SELECT that make it something other than a read.
var pgWriteNodes = map[string]StatementClass{
	"InsertStmt": ClassDML,
	"UpdateStmt": ClassDML,
	"DeleteStmt": ClassDML,
	"MergeStmt":  ClassDML,
}

// checkReadOnly walks the JSON parse tree of a SELECT and rejects
// data-modifying CTEs, SELECT INTO and row-locking clauses at any depth.
func checkReadOnly(raw string) error {
	out, err := pg_query.ParseToJSON(raw)
	if err != nil {
		return errors.SyntaxError(err)
	}
	var tree interface{}
	if err := json.Unmarshal([]byte(out), &tree); err != nil {
		return errors.SyntaxError(err)
	}
	return walkParseTree(tree)
}

func walkParseTree(v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		for key, child := range t {
			if class, ok := pgWriteNodes[key]; ok {
				return errors.WriteNotAllowed(class.String()).WithDetail("node", key)
			}
			switch key {
			case "intoClause":
				return errors.WriteNotAllowed(ClassDDL.String()).WithDetail("clause", "INTO")
			case "lockingClause":
				return errors.WriteNotAllowed(ClassDML.String()).WithDetail("clause", "FOR UPDATE/SHARE")
			}
			if err := walkParseTree(child); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range t {
			if err := walkParseTree(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// classifyNode maps a top-level statement node to its class, falling back to
// the text classifier for node types not listed here.
func classifyNode(stmt *pg_query.Node, raw string) StatementClass {
	switch stmt.GetNode().(type) {
	case *pg_query.Node_SelectStmt:
		return ClassDQL
	case *pg_query.Node_InsertStmt, *pg_query.Node_UpdateStmt, *pg_query.Node_DeleteStmt,
		*pg_query.Node_MergeStmt, *pg_query.Node_CopyStmt:
		return ClassDML
	case *pg_query.Node_CreateStmt, *pg_query.Node_AlterTableStmt, *pg_query.Node_DropStmt,
		*pg_query.Node_TruncateStmt, *pg_query.Node_IndexStmt, *pg_query.Node_ViewStmt,
		*pg_query.Node_CreateTableAsStmt, *pg_query.Node_RenameStmt:
		return ClassDDL
	case *pg_query.Node_TransactionStmt:
		return ClassTCL
	case *pg_query.Node_GrantStmt, *pg_query.Node_GrantRoleStmt, *pg_query.Node_CreateRoleStmt,
		*pg_query.Node_AlterRoleStmt, *pg_query.Node_DropRoleStmt:
		return ClassDCL
	case *pg_query.Node_ExplainStmt, *pg_query.Node_VariableSetStmt, *pg_query.Node_VariableShowStmt,
		*pg_query.Node_VacuumStmt, *pg_query.Node_LockStmt, *pg_query.Node_CallStmt,
		*pg_query.Node_DoStmt, *pg_query.Node_CheckPointStmt:
		return ClassUtility
	}
	if class := ClassifyText(raw); class != ClassDQL {
		return class
	}
	return ClassUtility
}
