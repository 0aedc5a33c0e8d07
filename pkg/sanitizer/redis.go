package sanitizer

import (
	"encoding/json"
	"strings"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// Read-only commands a key-value query may run. KEYS is left out because
// it blocks the server on large keyspaces; SCAN covers the same need.
var redisReadCommands = map[string]bool{
	"GET": true, "MGET": true, "STRLEN": true, "GETRANGE": true,
	"EXISTS": true, "TYPE": true, "TTL": true, "PTTL": true,
	"HGET": true, "HGETALL": true, "HMGET": true, "HKEYS": true, "HVALS": true,
	"HLEN": true, "HEXISTS": true, "HSCAN": true,
	"LRANGE": true, "LLEN": true, "LINDEX": true,
	"SMEMBERS": true, "SCARD": true, "SISMEMBER": true, "SRANDMEMBER": true, "SSCAN": true,
	"ZRANGE": true, "ZRANGEBYSCORE": true, "ZREVRANGE": true, "ZREVRANGEBYSCORE": true,
	"ZCARD": true, "ZSCORE": true, "ZRANK": true, "ZREVRANK": true, "ZCOUNT": true, "ZSCAN": true,
	"SCAN": true, "DBSIZE": true, "PING": true, "INFO": true,
	"XRANGE": true, "XREVRANGE": true, "XLEN": true,
	"BITCOUNT": true, "GETBIT": true, "PFCOUNT": true,
}

var redisUtilityCommands = map[string]bool{
	"FLUSHALL": true, "FLUSHDB": true, "CONFIG": true, "SHUTDOWN": true, "DEBUG": true,
	"SCRIPT": true, "EVAL": true, "EVALSHA": true, "MODULE": true, "ACL": true,
	"CLIENT": true, "SLAVEOF": true, "REPLICAOF": true,
}

var redisTransactionCommands = map[string]bool{
	"MULTI": true, "EXEC": true, "DISCARD": true, "WATCH": true,
}

type redisDialect struct {
	limits Limits
}

func (d *redisDialect) Kind() models.BackendKind { return models.KindRedis }

func (d *redisDialect) Sanitize(raw string, requested *int) (*models.SanitizedQuery, error) {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	switch n := len(lines); {
	case n == 0:
		return nil, emptyStatement()
	case n > 1:
		return nil, errors.MultipleStatements(n)
	}

	fields := strings.Fields(lines[0])
	name := strings.ToUpper(fields[0])
	if !redisReadCommands[name] {
		return nil, errors.WriteNotAllowed(redisClass(name).String()).WithDetail("command", name)
	}

	limit := d.limits.Server(requested)
	form, err := json.Marshal(models.KeyValueCommand{Command: name, Args: fields[1:], Limit: limit})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to encode command")
	}
	return &models.SanitizedQuery{EffectiveLimit: limit, DataForm: string(form)}, nil
}

func redisClass(name string) StatementClass {
	switch {
	case redisUtilityCommands[name]:
		return ClassUtility
	case redisTransactionCommands[name]:
		return ClassTCL
	default:
		return ClassDML
	}
}
