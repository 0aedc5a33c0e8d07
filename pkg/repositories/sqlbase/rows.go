package sqlbase

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// RowsToJSON encodes each row as a JSON object whose keys follow the column
// order. Integer, decimal and float columns become numbers, JSON columns are
// embedded as-is, NULL becomes null and everything else is rendered as a
// string.
func RowsToJSON(rows *sql.Rows) ([]json.RawMessage, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	keys := make([][]byte, len(types))
	for i, ct := range types {
		k, err := json.Marshal(ct.Name())
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}

	out := []json.RawMessage{}
	values := make([]any, len(types))
	dest := make([]any, len(types))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, v := range values {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(keys[i])
			buf.WriteByte(':')
			enc, err := encodeValue(v, strings.ToUpper(types[i].DatabaseTypeName()))
			if err != nil {
				return nil, err
			}
			buf.Write(enc)
		}
		buf.WriteByte('}')
		out = append(out, json.RawMessage(buf.Bytes()))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeValue(v any, dbType string) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return []byte("null"), nil
	case []byte:
		return encodeText(string(x), dbType)
	case string:
		return encodeText(x, dbType)
	case time.Time:
		return json.Marshal(x.Format(time.RFC3339Nano))
	case *big.Int:
		return []byte(x.String()), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return json.Marshal(strconv.FormatFloat(x, 'g', -1, 64))
		}
		return json.Marshal(x)
	case float32:
		return encodeValue(float64(x), dbType)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return json.Marshal(x)
	default:
		return json.Marshal(x)
	}
}

func encodeText(s, dbType string) ([]byte, error) {
	switch {
	case dbType == "JSON" || dbType == "JSONB":
		if json.Valid([]byte(s)) {
			return []byte(s), nil
		}
	case isNumericType(dbType):
		if _, err := strconv.ParseFloat(s, 64); err == nil && json.Valid([]byte(s)) {
			return []byte(s), nil
		}
	}
	return json.Marshal(s)
}

func isNumericType(dbType string) bool {
	dbType = strings.TrimPrefix(dbType, "UNSIGNED ")
	switch dbType {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR",
		"DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "INT2", "INT4", "INT8", "FLOAT4", "FLOAT8",
		"HUGEINT", "UBIGINT", "UINTEGER", "USMALLINT", "UTINYINT":
		return true
	}
	return false
}
