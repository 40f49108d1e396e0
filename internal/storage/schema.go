package storage

import (
	"fmt"
	"strings"

	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/utils"
)

// ColumnType maps a semantic field type to a column type for the dialect.
// A StorageType override on the field wins outright. Fields not declared in
// the schema fall back to the string mapping.
func ColumnType(schema engine.Schema, name, dialect string) string {
	var fieldType engine.FieldType = engine.FieldString
	for _, f := range schema.Fields {
		if f.Name == name {
			if f.StorageType != "" {
				return f.StorageType
			}
			fieldType = f.Type
			break
		}
	}
	return dialectType(fieldType, dialect)
}

func dialectType(t engine.FieldType, dialect string) string {
	mysql := strings.EqualFold(dialect, "mysql")
	switch t {
	case engine.FieldInt32:
		return "INTEGER"
	case engine.FieldInt64:
		return "BIGINT"
	case engine.FieldFloat:
		if mysql {
			return "DOUBLE"
		}
		return "DOUBLE PRECISION"
	case engine.FieldBool:
		if mysql {
			return "TINYINT(1)"
		}
		return "BOOLEAN"
	case engine.FieldDate:
		return "DATE"
	case engine.FieldDatetime:
		if mysql {
			return "DATETIME"
		}
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// keyColumnType returns the type for a primary-key member. MySQL cannot
// index unbounded TEXT, so string keys become a bounded VARCHAR there.
func keyColumnType(schema engine.Schema, name, dialect string) string {
	ct := ColumnType(schema, name, dialect)
	if strings.EqualFold(dialect, "mysql") && strings.EqualFold(ct, "TEXT") {
		return "VARCHAR(190)"
	}
	return ct
}

// RenderValue renders a record value as a SQL literal.
func RenderValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return utils.QuoteStringLiteral(val)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return fmt.Sprintf("%d", val)
	case int:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return utils.QuoteStringLiteral(engine.FlattenValue(val))
	}
}
