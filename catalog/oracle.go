package catalog

import (
	"context"
	"strings"

	"github.com/bluele/gcache"
	"zh.xyz/dv/ora2pg/models"
)

// Dependency all_dependencies中的一条依赖记录
type Dependency struct {
	Name     string
	Type     string
	RefOwner string
	RefName  string
	RefType  string
}

// Reference 被引用的对象及其所属schema
type Reference struct {
	Owner string
	Name  string
	Kind  string
}

// Oracle 源库（Oracle）目录查询，限定在一个owner下
type Oracle struct {
	r       Reader
	owner   string
	sources gcache.Cache
}

// NewOracle 创建Oracle目录查询，源码行按LRU缓存
func NewOracle(r Reader, owner string) *Oracle {
	return &Oracle{
		r:       r,
		owner:   strings.ToUpper(owner),
		sources: gcache.New(256).LRU().Build(),
	}
}

// Owner 源schema
func (o *Oracle) Owner() string {
	return o.owner
}

func (o *Oracle) column(ctx context.Context, col, query string, args ...any) ([]string, error) {
	rows, err := o.r.Query(ctx, Source, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.String(col))
	}
	return out, nil
}

// Schemas 列出非系统用户
func (o *Oracle) Schemas(ctx context.Context) ([]string, error) {
	return o.column(ctx, "USERNAME",
		"SELECT username FROM all_users WHERE oracle_maintained = 'N' ORDER BY username")
}

// VisibleSchemas 连接用户可迁移的schema：DBA可见全部用户schema，否则只有owner自身
func (o *Oracle) VisibleSchemas(ctx context.Context) ([]string, bool, error) {
	dba, err := o.IsDBA(ctx)
	if err != nil {
		return nil, false, err
	}
	if !dba {
		return []string{o.owner}, false, nil
	}
	schemas, err := o.Schemas(ctx)
	return schemas, true, err
}

// Tables 列出owner下的表
func (o *Oracle) Tables(ctx context.Context) ([]string, error) {
	return o.column(ctx, "TABLE_NAME",
		"SELECT table_name FROM all_tables WHERE owner = :1 ORDER BY table_name", o.owner)
}

// Objects 列出owner下可迁移的存储对象（函数、存储过程、触发器、视图）
func (o *Oracle) Objects(ctx context.Context) ([]models.ObjectKey, error) {
	rows, err := o.r.Query(ctx, Source,
		`SELECT name, type FROM all_source WHERE owner = :1 AND line = 1
		 UNION SELECT view_name, 'VIEW' FROM all_views WHERE owner = :2`, o.owner, o.owner)
	if err != nil {
		return nil, err
	}
	var keys []models.ObjectKey
	for _, row := range rows {
		kind, ok := models.ParseObjectKind(row.String("TYPE"))
		if !ok || kind == models.KindTable {
			continue
		}
		keys = append(keys, models.ObjectKey{Kind: kind, Name: row.String("NAME")})
	}
	return keys, nil
}

// PrimaryKey 主键列（按位置排序）
func (o *Oracle) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	return o.column(ctx, "COLUMN_NAME",
		`SELECT cols.column_name
		 FROM all_cons_columns cols, all_constraints cons
		 WHERE cons.owner = :1 AND cons.table_name = :2
		 AND cons.constraint_type = 'P'
		 AND cons.constraint_name = cols.constraint_name
		 AND cols.owner = cons.owner
		 ORDER BY cols.position`, o.owner, table)
}

// ForeignKeys 外键约束，包含被引用表、列与删除规则
func (o *Oracle) ForeignKeys(ctx context.Context, table string) ([]models.ForeignKey, error) {
	rows, err := o.r.Query(ctx, Source,
		`SELECT c.constraint_name, c.delete_rule, cc.column_name,
		        r.owner AS r_owner, r.table_name AS r_table, rc.column_name AS r_column
		 FROM all_constraints c
		 JOIN all_cons_columns cc ON cc.owner = c.owner AND cc.constraint_name = c.constraint_name
		 JOIN all_constraints r ON r.owner = c.r_owner AND r.constraint_name = c.r_constraint_name
		 JOIN all_cons_columns rc ON rc.owner = r.owner AND rc.constraint_name = r.constraint_name
		      AND rc.position = cc.position
		 WHERE c.owner = :1 AND c.table_name = :2 AND c.constraint_type = 'R'
		 ORDER BY c.constraint_name, cc.position`, o.owner, table)
	if err != nil {
		return nil, err
	}

	var fks []models.ForeignKey
	index := make(map[string]int)
	for _, row := range rows {
		name := row.String("CONSTRAINT_NAME")
		i, ok := index[name]
		if !ok {
			fks = append(fks, models.ForeignKey{
				Name:     name,
				Table:    table,
				RefOwner: row.String("R_OWNER"),
				RefTable: row.String("R_TABLE"),
				OnDelete: models.ParseOnDeleteRule(row.String("DELETE_RULE")),
			})
			i = len(fks) - 1
			index[name] = i
		}
		fks[i].Columns = append(fks[i].Columns, row.String("COLUMN_NAME"))
		fks[i].RefColumns = append(fks[i].RefColumns, row.String("R_COLUMN"))
	}
	return fks, nil
}

// Columns 表的列定义
func (o *Oracle) Columns(ctx context.Context, table string) ([]models.Column, error) {
	rows, err := o.r.Query(ctx, Source,
		`SELECT column_name, data_type, data_length, data_precision, data_scale, nullable, data_default
		 FROM all_tab_columns WHERE owner = :1 AND table_name = :2 ORDER BY column_id`, o.owner, table)
	if err != nil {
		return nil, err
	}
	cols := make([]models.Column, 0, len(rows))
	for _, row := range rows {
		cols = append(cols, models.Column{
			Name:      row.String("COLUMN_NAME"),
			DataType:  row.String("DATA_TYPE"),
			Length:    row.Int("DATA_LENGTH"),
			Precision: row.Int("DATA_PRECISION"),
			Scale:     row.Int("DATA_SCALE"),
			HasScale:  !row.IsNull("DATA_SCALE"),
			Nullable:  row.String("NULLABLE") != "N",
			Default:   strings.TrimSpace(row.String("DATA_DEFAULT")),
		})
	}
	return cols, nil
}

// TableDependencies 与表相关的对象（如自增触发器）及其依赖
func (o *Oracle) TableDependencies(ctx context.Context, table string) ([]Dependency, error) {
	rows, err := o.r.Query(ctx, Source,
		`SELECT name, type, referenced_owner, referenced_name, referenced_type FROM all_dependencies
		 WHERE owner = :1 AND name IN
		 (SELECT name FROM all_dependencies WHERE owner = :2 AND referenced_name = :3)`,
		o.owner, o.owner, table)
	if err != nil {
		return nil, err
	}
	deps := make([]Dependency, 0, len(rows))
	for _, row := range rows {
		deps = append(deps, Dependency{
			Name:     row.String("NAME"),
			Type:     row.String("TYPE"),
			RefOwner: row.String("REFERENCED_OWNER"),
			RefName:  row.String("REFERENCED_NAME"),
			RefType:  row.String("REFERENCED_TYPE"),
		})
	}
	return deps, nil
}

// TriggerColumns 触发器引用的列
func (o *Oracle) TriggerColumns(ctx context.Context, trigger string) ([]string, error) {
	return o.column(ctx, "COLUMN_NAME",
		"SELECT column_name FROM all_trigger_cols WHERE trigger_owner = :1 AND trigger_name = :2",
		o.owner, trigger)
}

// SourceLines 存储对象源码（按行号排序，带缓存）
func (o *Oracle) SourceLines(ctx context.Context, key models.ObjectKey) ([]string, error) {
	if v, err := o.sources.Get(key); err == nil {
		return v.([]string), nil
	}
	lines, err := o.column(ctx, "TEXT",
		"SELECT text FROM all_source WHERE owner = :1 AND name = :2 AND type = :3 ORDER BY line",
		o.owner, key.Name, string(key.Kind))
	if err != nil {
		return nil, err
	}
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r\n")
	}
	_ = o.sources.Set(key, lines)
	return lines, nil
}

// ViewText 视图定义文本
func (o *Oracle) ViewText(ctx context.Context, name string) (string, error) {
	texts, err := o.column(ctx, "TEXT",
		"SELECT text FROM all_views WHERE owner = :1 AND view_name = :2", o.owner, name)
	if err != nil || len(texts) == 0 {
		return "", err
	}
	return texts[0], nil
}

// ObjectDependencies 对象依赖的其他函数、存储过程和视图（同schema）
func (o *Oracle) ObjectDependencies(ctx context.Context, name string) ([]models.ObjectKey, error) {
	rows, err := o.r.Query(ctx, Source,
		`SELECT DISTINCT referenced_name, referenced_type FROM all_dependencies
		 WHERE owner = :1 AND name = :2 AND referenced_owner = :3
		 AND referenced_type IN ('PROCEDURE', 'FUNCTION', 'VIEW')`, o.owner, name, o.owner)
	if err != nil {
		return nil, err
	}
	var keys []models.ObjectKey
	for _, row := range rows {
		if kind, ok := models.ParseObjectKind(row.String("REFERENCED_TYPE")); ok {
			keys = append(keys, models.ObjectKey{Kind: kind, Name: row.String("REFERENCED_NAME")})
		}
	}
	return keys, nil
}

// ReferencedTables 表的外键所引用的表及其owner
func (o *Oracle) ReferencedTables(ctx context.Context, table string) ([]Reference, error) {
	rows, err := o.r.Query(ctx, Source,
		`SELECT DISTINCT r.owner, r.table_name FROM all_constraints c
		 JOIN all_constraints r ON r.owner = c.r_owner AND r.constraint_name = c.r_constraint_name
		 WHERE c.owner = :1 AND c.table_name = :2 AND c.constraint_type = 'R'`, o.owner, table)
	if err != nil {
		return nil, err
	}
	refs := make([]Reference, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, Reference{Owner: row.String("OWNER"), Name: row.String("TABLE_NAME"), Kind: "TABLE"})
	}
	return refs, nil
}

// ReferencedObjects 对象引用的所有非系统对象及其owner
func (o *Oracle) ReferencedObjects(ctx context.Context, name string) ([]Reference, error) {
	rows, err := o.r.Query(ctx, Source,
		`SELECT DISTINCT referenced_owner, referenced_name, referenced_type FROM all_dependencies
		 WHERE owner = :1 AND name = :2
		 AND referenced_owner != 'PUBLIC' AND referenced_owner NOT LIKE 'SYS%'`, o.owner, name)
	if err != nil {
		return nil, err
	}
	refs := make([]Reference, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, Reference{
			Owner: row.String("REFERENCED_OWNER"),
			Name:  row.String("REFERENCED_NAME"),
			Kind:  row.String("REFERENCED_TYPE"),
		})
	}
	return refs, nil
}

// IsDBA 源连接用户是否拥有DBA角色（可读取其他owner的目录视图）
func (o *Oracle) IsDBA(ctx context.Context) (bool, error) {
	rows, err := o.r.Query(ctx, Source,
		"SELECT COUNT(*) AS cnt FROM user_role_privs WHERE granted_role = 'DBA'")
	if err != nil || len(rows) == 0 {
		return false, err
	}
	return rows[0].Int("CNT") > 0, nil
}
