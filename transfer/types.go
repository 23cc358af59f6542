package transfer

import (
	"fmt"
	"strings"

	"zh.xyz/dv/ora2pg/models"
)

// PostgresType 将Oracle列类型映射为PostgreSQL类型
func PostgresType(col models.Column) string {
	dataType := strings.ToUpper(strings.TrimSpace(col.DataType))
	switch {
	case dataType == "NUMBER":
		return numberType(col)
	case dataType == "FLOAT", dataType == "BINARY_DOUBLE":
		return "double precision"
	case dataType == "BINARY_FLOAT":
		return "real"
	case dataType == "VARCHAR2", dataType == "NVARCHAR2", dataType == "VARCHAR":
		if col.Length > 0 {
			return fmt.Sprintf("varchar(%d)", col.Length)
		}
		return "varchar"
	case dataType == "CHAR", dataType == "NCHAR":
		if col.Length > 0 {
			return fmt.Sprintf("char(%d)", col.Length)
		}
		return "char"
	case dataType == "CLOB", dataType == "NCLOB", dataType == "LONG":
		return "text"
	case dataType == "RAW" && col.Length == 16:
		return "uuid"
	case dataType == "BLOB", dataType == "RAW", dataType == "LONG RAW", dataType == "BFILE":
		return "bytea"
	case dataType == "DATE":
		return "timestamp(0)"
	case strings.HasPrefix(dataType, "TIMESTAMP") && strings.Contains(dataType, "TIME ZONE"):
		return "timestamptz"
	case strings.HasPrefix(dataType, "TIMESTAMP"):
		return "timestamp"
	case strings.HasPrefix(dataType, "INTERVAL"):
		return "interval"
	case dataType == "XMLTYPE":
		return "xml"
	case dataType == "ROWID", dataType == "UROWID":
		return "varchar(4000)"
	}
	return "text"
}

func numberType(col models.Column) string {
	switch {
	case col.Precision <= 0 && !col.HasScale:
		return "numeric"
	case col.Precision <= 0:
		// NUMBER(*,0)
		if col.Scale == 0 {
			return "numeric(38)"
		}
		return fmt.Sprintf("numeric(38,%d)", col.Scale)
	case col.Scale > 0:
		return fmt.Sprintf("numeric(%d,%d)", col.Precision, col.Scale)
	case col.Precision <= 4:
		return "smallint"
	case col.Precision <= 9:
		return "integer"
	case col.Precision <= 18:
		return "bigint"
	}
	return fmt.Sprintf("numeric(%d)", col.Precision)
}

// ColumnNames 目标端列名（小写）
func ColumnNames(cols []models.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = strings.ToLower(c.Name)
	}
	return names
}

// CreateTableDDL 生成目标表的建表语句，不含约束与默认值
func CreateTableDDL(schema string, table *models.TableDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s.%s (", schema, strings.ToLower(table.Name))
	for i, col := range table.Columns {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "\n    %s %s", strings.ToLower(col.Name), PostgresType(col))
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString("\n)")
	return b.String()
}
