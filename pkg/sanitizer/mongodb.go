package sanitizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// Pipeline stages that write to a collection.
var mongoWriteStages = map[string]bool{
	"$out":   true,
	"$merge": true,
}

// mongoDialect accepts a single find or aggregate document in extended JSON.
// The plan and data forms are the same canonical document; the session
// decides whether to explain or run it.
type mongoDialect struct {
	limits Limits
}

func (d *mongoDialect) Kind() models.BackendKind { return models.KindMongoDB }

func (d *mongoDialect) Sanitize(raw string, requested *int) (*models.SanitizedQuery, error) {
	doc, err := singleDocument(raw)
	if err != nil {
		return nil, err
	}

	var q models.DocumentQuery
	if err := bson.UnmarshalExtJSON(doc, false, &q); err != nil {
		return nil, errors.SyntaxError(err)
	}
	if strings.TrimSpace(q.Collection) == "" {
		return nil, errors.SyntaxError(fmt.Errorf("collection is required"))
	}

	server := d.limits.Server(requested)
	var limit int
	if q.IsAggregate() {
		for _, stage := range q.Pipeline {
			for _, elem := range stage {
				if mongoWriteStages[elem.Key] {
					return nil, errors.WriteNotAllowed(ClassDML.String()).WithDetail("stage", elem.Key)
				}
			}
		}
		limit = server
		if n := len(q.Pipeline); n > 0 {
			if literal, ok := stageLimit(q.Pipeline[n-1]); ok {
				limit = effectiveLimit(literal, true, server)
				q.Pipeline = q.Pipeline[:n-1]
			}
		}
		q.Pipeline = append(q.Pipeline, bson.D{{Key: "$limit", Value: int64(limit)}})
	} else {
		limit = effectiveLimit(q.Limit, q.Limit > 0, server)
		q.Limit = int64(limit)
	}

	form, err := bson.MarshalExtJSON(q, false, false)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to encode query")
	}
	return &models.SanitizedQuery{
		EffectiveLimit: limit,
		PlanForm:       string(form),
		DataForm:       string(form),
	}, nil
}

// singleDocument unwraps a one-element JSON array and rejects batches.
func singleDocument(raw string) ([]byte, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return nil, emptyStatement()
	}
	if trimmed[0] != '[' {
		return trimmed, nil
	}
	var batch []json.RawMessage
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return nil, errors.SyntaxError(err)
	}
	switch n := len(batch); {
	case n == 0:
		return nil, emptyStatement()
	case n > 1:
		return nil, errors.MultipleStatements(n)
	}
	return bytes.TrimSpace(batch[0]), nil
}

// stageLimit reads an integer {$limit: n} stage.
func stageLimit(stage bson.D) (int64, bool) {
	if len(stage) != 1 || stage[0].Key != "$limit" {
		return 0, false
	}
	switch v := stage[0].Value.(type) {
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}
