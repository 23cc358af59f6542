package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"zh.xyz/dv/ora2pg/catalog"
	"zh.xyz/dv/ora2pg/models"
	"zh.xyz/dv/ora2pg/scheduler"
	"zh.xyz/dv/ora2pg/transfer"
	"zh.xyz/dv/ora2pg/transpile"
)

// RowCopier 表数据批量写入
type RowCopier interface {
	Copy(ctx context.Context, owner, schema string, table *models.TableDescriptor) (int64, error)
}

// inventory 会话开始时目标schema中已有的对象
type inventory struct {
	tables   map[string]bool
	routines map[string]bool
	triggers map[string]bool
}

func (inv inventory) has(key models.ObjectKey) bool {
	name := strings.ToLower(transpile.NormalizeName(key.Name))
	switch key.Kind {
	case models.KindTable, models.KindView:
		return inv.tables[name]
	case models.KindTrigger:
		return inv.triggers[name]
	}
	return inv.routines[name]
}

// engine 表与存储对象的抽取和加载，实现调度器的两个工作接口
type engine struct {
	ora       *catalog.Oracle
	pg        *catalog.Postgres
	reader    catalog.Reader
	copier    RowCopier
	tp        *transpile.Transpiler
	artifacts *Artifacts
	progress  *Progress
	rec       Recorder
	sessionID string
	inv       inventory
	seqOwner  string
	log       *logrus.Entry
}

var _ scheduler.TableWorker = (*engine)(nil)
var _ scheduler.ObjectWorker = (*engine)(nil)

func (e *engine) exec(ctx context.Context, stmt string) error {
	e.log.Debug(stmt)
	return e.reader.Execute(ctx, catalog.Destination, stmt)
}

// ExtractTable 抽取表结构：列、主键、外键与自增列
func (e *engine) ExtractTable(ctx context.Context, name string) (*models.TableDescriptor, error) {
	cols, err := e.ora.Columns(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("源表%s.%s不存在或没有列", e.ora.Owner(), name)
	}
	pk, err := e.ora.PrimaryKey(ctx, name)
	if err != nil {
		return nil, err
	}
	fks, err := e.ora.ForeignKeys(ctx, name)
	if err != nil {
		return nil, err
	}
	local := fks[:0]
	for _, fk := range fks {
		if fk.RefOwner != "" && !strings.EqualFold(fk.RefOwner, e.ora.Owner()) {
			e.progress.Warnf("表 %s 的外键 %s 引用 %s.%s，跳过", name, fk.Name, fk.RefOwner, fk.RefTable)
			continue
		}
		local = append(local, fk)
	}
	auto, err := e.autoIncrement(ctx, name, cols, pk)
	if err != nil {
		return nil, err
	}

	desc := &models.TableDescriptor{
		Name:          name,
		Columns:       cols,
		PrimaryKey:    pk,
		ForeignKeys:   local,
		AutoIncrement: auto,
		Exists:        e.inv.tables[strings.ToLower(name)],
	}
	e.progress.Reportf("表 %s 抽取完成", name)
	return desc, nil
}

// autoIncrement 识别自增主键：序列触发器，或以序列NEXTVAL为默认值的列
func (e *engine) autoIncrement(ctx context.Context, table string, cols []models.Column, pk []string) (*models.AutoIncrement, error) {
	deps, err := e.ora.TableDependencies(ctx, table)
	if err != nil {
		return nil, err
	}
	for _, dep := range deps {
		if dep.Type != "TRIGGER" || dep.RefType != "SEQUENCE" {
			continue
		}
		if len(pk) == 1 {
			return &models.AutoIncrement{Column: pk[0], Sequence: dep.RefName}, nil
		}
		trigCols, err := e.ora.TriggerColumns(ctx, dep.Name)
		if err != nil {
			return nil, err
		}
		for _, c := range trigCols {
			if containsFold(pk, c) {
				return &models.AutoIncrement{Column: c, Sequence: dep.RefName}, nil
			}
		}
	}

	for _, col := range cols {
		def := strings.ToUpper(col.Default)
		i := strings.Index(def, ".NEXTVAL")
		if i < 0 || !containsFold(pk, col.Name) {
			continue
		}
		return &models.AutoIncrement{Column: col.Name, Sequence: transpile.NormalizeName(col.Default[:i])}, nil
	}
	return nil, nil
}

// LoadTable 重建目标表并导入数据，随后补上主键、序列与外键
func (e *engine) LoadTable(ctx context.Context, t *models.TableDescriptor) error {
	key := models.ObjectKey{Kind: models.KindTable, Name: t.Name}
	schema := e.pg.Schema()
	table := strings.ToLower(t.Name)
	qualified := schema + "." + table

	if t.Exists {
		e.progress.Reportf("表 %s 已存在于schema %s，替换中...", table, schema)
		e.progress.markAction(key, ActionReplace)
	}
	if err := e.exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", qualified)); err != nil {
		return err
	}
	if err := e.exec(ctx, transfer.CreateTableDDL(schema, t)); err != nil {
		return err
	}

	e.progress.Reportf("加载表 %s 的数据...", qualified)
	rows, err := e.copier.Copy(ctx, e.ora.Owner(), schema, t)
	if err != nil {
		return fmt.Errorf("导入表%s数据失败: %w", qualified, err)
	}
	rowsCopied.Add(float64(rows))

	e.progress.Reportf("加载表 %s 的约束...", table)
	if len(t.PrimaryKey) > 0 {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", qualified, columnList(t.PrimaryKey))
		if err := e.exec(ctx, stmt); err != nil {
			return err
		}
	}
	if t.AutoIncrement != nil {
		if err := e.sequence(ctx, t); err != nil {
			return err
		}
	}
	for _, fk := range t.ForeignKeys {
		stmt := foreignKeyDDL(schema, fk)
		if err := e.exec(ctx, stmt); err != nil {
			cerr := &ConstraintError{Table: table, Constraint: strings.ToLower(fk.Name), Statement: stmt, Err: err}
			constraintFailures.Inc()
			e.progress.Warnf("%v", cerr)
		}
	}

	e.progress.Reportf("表 %s 导入完成，共%d行", qualified, rows)
	return nil
}

// sequence 为自增列建立序列并同步到已导入数据的最大值
func (e *engine) sequence(ctx context.Context, t *models.TableDescriptor) error {
	schema := e.pg.Schema()
	table := strings.ToLower(t.Name)
	col := strings.ToLower(t.AutoIncrement.Column)
	seq := fmt.Sprintf("%s.%s_%s_seq", schema, table, col)

	last, err := e.pg.MaxValue(ctx, table, col)
	if err != nil {
		return err
	}
	setval := fmt.Sprintf("SELECT setval('%s', 1, false)", seq)
	if last > 0 {
		setval = fmt.Sprintf("SELECT setval('%s', %d, true)", seq, last)
	}
	stmts := []string{
		fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", seq),
		setval,
		fmt.Sprintf("ALTER TABLE %s.%s ALTER COLUMN %s SET DEFAULT nextval('%s')", schema, table, col, seq),
		fmt.Sprintf("ALTER SEQUENCE %s OWNED BY %s.%s.%s", seq, schema, table, col),
	}
	if e.seqOwner != "" {
		stmts = append(stmts, fmt.Sprintf("ALTER SEQUENCE %s OWNER TO %s", seq, e.seqOwner))
	}
	for _, stmt := range stmts {
		if err := e.exec(ctx, stmt); err != nil {
			return err
		}
	}
	e.progress.Reportf("序列 %s 已同步（源序列 %s）", seq, t.AutoIncrement.Sequence)
	return nil
}

// ExtractObject 抽取存储对象源码及其依赖
func (e *engine) ExtractObject(ctx context.Context, key models.ObjectKey) (*models.SourceObject, error) {
	lines, err := objectSource(ctx, e.ora, key)
	if err != nil {
		return nil, err
	}
	deps, err := e.ora.ObjectDependencies(ctx, key.Name)
	if err != nil {
		return nil, err
	}
	return &models.SourceObject{Key: key, Lines: lines, Dependencies: deps, Exists: e.inv.has(key)}, nil
}

func objectSource(ctx context.Context, ora *catalog.Oracle, key models.ObjectKey) ([]string, error) {
	var lines []string
	if key.Kind == models.KindView {
		text, err := ora.ViewText(ctx, key.Name)
		if err != nil {
			return nil, err
		}
		lines = strings.Split(text, "\n")
	} else {
		src, err := ora.SourceLines(ctx, key)
		if err != nil {
			return nil, err
		}
		lines = src
	}
	if len(lines) == 0 || strings.TrimSpace(strings.Join(lines, "")) == "" {
		return nil, fmt.Errorf("%s 没有源码", key)
	}
	return lines, nil
}

// PreviewObject 读取源码并给出转换结果，不连接目标库也不执行
func PreviewObject(ctx context.Context, r catalog.Reader, owner, schema string, key models.ObjectKey) (*transpile.Translation, error) {
	ora := catalog.NewOracle(r, owner)
	lines, err := objectSource(ctx, ora, key)
	if err != nil {
		return nil, err
	}
	return transpile.New(ora.Owner(), schema, ora).Transpile(ctx, &models.SourceObject{Key: key, Lines: lines})
}

// LoadObject 转换并创建存储对象；无法转换的对象写入人工迁移文件，不执行
func (e *engine) LoadObject(ctx context.Context, obj *models.SourceObject) error {
	tr, err := e.tp.Transpile(ctx, obj)
	if err != nil {
		return err
	}
	if tr.Manual != nil {
		return e.manual(obj.Key, tr.Manual)
	}

	if obj.Exists {
		e.progress.Reportf("%s 已存在于schema %s，替换中...", obj.Key, e.pg.Schema())
		e.progress.markAction(obj.Key, ActionReplace)
	}
	for _, stmt := range tr.Drop {
		if err := e.exec(ctx, stmt); err != nil {
			return err
		}
	}
	for _, stmt := range tr.Statements {
		if err := e.exec(ctx, stmt); err != nil {
			return fmt.Errorf("创建%s失败: %w", obj.Key, err)
		}
	}
	e.progress.Reportf("%s 迁移完成", obj.Key)
	return nil
}

func (e *engine) manual(key models.ObjectKey, m *models.ManualArtifact) error {
	path, err := e.artifacts.WriteManual(m)
	if err != nil {
		return fmt.Errorf("写入人工迁移文件失败: %w", err)
	}
	manualArtifacts.Inc()
	e.progress.markAction(key, ActionManual)
	e.progress.Warnf("%s 无法自动迁移（%v），已写入 %s", key, m.Reason, path)
	e.rec.ManualArtifact(&models.ManualArtifactRecord{
		SessionID:  e.sessionID,
		ObjectType: string(m.Kind),
		ObjectName: m.Name,
		Reason:     m.Reason.Error(),
		FilePath:   path,
		Content:    m.Text,
	})
	return fmt.Errorf("%w: %v", scheduler.ErrSkipped, m.Reason)
}

func foreignKeyDDL(schema string, fk models.ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s.%s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s.%s (%s) ON DELETE %s",
		schema, strings.ToLower(fk.Table), strings.ToLower(fk.Name), columnList(fk.Columns),
		schema, strings.ToLower(fk.RefTable), columnList(fk.RefColumns), fk.OnDelete)
}

func columnList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.ToLower(c)
	}
	return strings.Join(out, ", ")
}

func containsFold(list []string, s string) bool {
	return lo.ContainsBy(list, func(v string) bool { return strings.EqualFold(v, s) })
}
