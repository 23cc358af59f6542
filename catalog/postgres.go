package catalog

import (
	"context"
	"fmt"
	"strings"
)

// Postgres 目标库（PostgreSQL）目录查询，限定在一个schema下
type Postgres struct {
	r      Reader
	schema string
}

// NewPostgres 创建PostgreSQL目录查询，schema为空时使用public
func NewPostgres(r Reader, schema string) *Postgres {
	if schema == "" {
		schema = "public"
	}
	return &Postgres{r: r, schema: strings.ToLower(schema)}
}

// Schema 目标schema
func (p *Postgres) Schema() string {
	return p.schema
}

func (p *Postgres) names(ctx context.Context, col, query string, args ...any) (map[string]bool, error) {
	rows, err := p.r.Query(ctx, Destination, query, args...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(rows))
	for _, row := range rows {
		out[strings.ToLower(row.String(col))] = true
	}
	return out, nil
}

// Namespaces 列出所有schema
func (p *Postgres) Namespaces(ctx context.Context) (map[string]bool, error) {
	return p.names(ctx, "nspname", "SELECT nspname FROM pg_catalog.pg_namespace")
}

// SchemaExists 目标schema是否存在
func (p *Postgres) SchemaExists(ctx context.Context) (bool, error) {
	ns, err := p.Namespaces(ctx)
	if err != nil {
		return false, err
	}
	return ns[p.schema], nil
}

// CreateSchema 创建目标schema
func (p *Postgres) CreateSchema(ctx context.Context) error {
	return p.r.Execute(ctx, Destination, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", p.schema))
}

// DropSchema 删除目标schema（恢复备份前使用）
func (p *Postgres) DropSchema(ctx context.Context) error {
	return p.r.Execute(ctx, Destination, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", p.schema))
}

// Tables 目标schema下已存在的表和视图
func (p *Postgres) Tables(ctx context.Context) (map[string]bool, error) {
	return p.names(ctx, "table_name",
		"SELECT table_name FROM information_schema.tables WHERE table_schema = $1", p.schema)
}

// Routines 目标schema下已存在的函数和存储过程
func (p *Postgres) Routines(ctx context.Context) (map[string]bool, error) {
	return p.names(ctx, "proname",
		`SELECT proname FROM pg_proc p JOIN pg_namespace n ON n.oid = p.pronamespace
		 WHERE nspname = $1`, p.schema)
}

// Triggers 目标schema下已存在的触发器
func (p *Postgres) Triggers(ctx context.Context) (map[string]bool, error) {
	return p.names(ctx, "tgname",
		`SELECT t.tgname FROM pg_trigger t
		 JOIN pg_class c ON c.oid = t.tgrelid
		 JOIN pg_namespace n ON n.oid = c.relnamespace
		 WHERE n.nspname = $1 AND NOT t.tgisinternal`, p.schema)
}

// IsSuperuser 当前连接用户是否为超级用户
func (p *Postgres) IsSuperuser(ctx context.Context) (bool, error) {
	rows, err := p.r.Query(ctx, Destination, "SELECT usesuper FROM pg_user WHERE usename = current_user")
	if err != nil || len(rows) == 0 {
		return false, err
	}
	return rows[0].Bool("usesuper"), nil
}

// CanCreate 当前用户是否有创建权限：schema存在时检查schema的CREATE，否则检查数据库的CREATE
func (p *Postgres) CanCreate(ctx context.Context, schemaExists bool) (bool, error) {
	query := "SELECT has_database_privilege(current_database(), 'CREATE') AS allowed"
	var args []any
	if schemaExists {
		query = "SELECT has_schema_privilege($1, 'CREATE') AS allowed"
		args = append(args, p.schema)
	}
	rows, err := p.r.Query(ctx, Destination, query, args...)
	if err != nil || len(rows) == 0 {
		return false, err
	}
	return rows[0].Bool("allowed"), nil
}

// MaxValue 目标表某列的最大值，空表返回0
func (p *Postgres) MaxValue(ctx context.Context, table, column string) (int64, error) {
	rows, err := p.r.Query(ctx, Destination,
		fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) AS max_value FROM %s.%s", column, p.schema, table))
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	return rows[0].Int("max_value"), nil
}

// TableExists 目标schema下是否存在该表
func (p *Postgres) TableExists(ctx context.Context, table string) (bool, error) {
	rows, err := p.r.Query(ctx, Destination,
		"SELECT 1 AS found FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2",
		p.schema, strings.ToLower(table))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
