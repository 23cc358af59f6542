package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Target 目录查询的目标端
type Target int

const (
	Source Target = iota
	Destination
)

func (t Target) String() string {
	if t == Source {
		return "source"
	}
	return "destination"
}

// Row 查询结果行，按列名索引
type Row map[string]any

// Value 按列名取值，先精确匹配再忽略大小写
func (r Row) Value(col string) (any, bool) {
	if v, ok := r[col]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, col) {
			return v, true
		}
	}
	return nil, false
}

// String 以字符串形式取值，NULL返回空串
func (r Row) String(col string) string {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int 以整数形式取值，无法解析时返回0
func (r Row) Int(col string) int64 {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(v)), 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

// IsNull 列值是否为NULL
func (r Row) IsNull(col string) bool {
	v, ok := r.Value(col)
	return !ok || v == nil
}

// Bool 以布尔形式取值
func (r Row) Bool(col string) bool {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	s := strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	return s == "t" || s == "true" || s == "y" || s == "1"
}

// Reader 目录读取接口：元数据查询与目标端语句执行
type Reader interface {
	Query(ctx context.Context, target Target, query string, args ...any) ([]Row, error)
	Execute(ctx context.Context, target Target, stmt string, args ...any) error
}

// SQLReader 基于database/sql的目录读取实现，每个目标端复用同一个连接池
type SQLReader struct {
	source *sql.DB
	dest   *sql.DB
}

// NewSQLReader 创建目录读取器
func NewSQLReader(source, dest *sql.DB) *SQLReader {
	return &SQLReader{source: source, dest: dest}
}

func (r *SQLReader) db(target Target) (*sql.DB, error) {
	db := r.dest
	if target == Source {
		db = r.source
	}
	if db == nil {
		return nil, fmt.Errorf("%s连接未初始化", target)
	}
	return db, nil
}

// Query 执行查询并返回全部行
func (r *SQLReader) Query(ctx context.Context, target Target, query string, args ...any) ([]Row, error) {
	db, err := r.db(target)
	if err != nil {
		return nil, &CatalogError{Op: "query", Target: target, Statement: query, Err: err}
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &CatalogError{Op: "query", Target: target, Statement: query, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &CatalogError{Op: "query", Target: target, Statement: query, Err: err}
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &CatalogError{Op: "scan", Target: target, Statement: query, Err: err}
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &CatalogError{Op: "query", Target: target, Statement: query, Err: err}
	}
	return result, nil
}

// Execute 执行单条语句（自动提交）
func (r *SQLReader) Execute(ctx context.Context, target Target, stmt string, args ...any) error {
	db, err := r.db(target)
	if err != nil {
		return &CatalogError{Op: "execute", Target: target, Statement: stmt, Err: err}
	}
	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		return &CatalogError{Op: "execute", Target: target, Statement: stmt, Err: err}
	}
	return nil
}

// normalizeValue 规范化驱动返回的值，[]byte转为字符串
func normalizeValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "")
}
