package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/ora2pg/catalog"
	"zh.xyz/dv/ora2pg/models"
	"zh.xyz/dv/ora2pg/scheduler"
	"zh.xyz/dv/ora2pg/transfer"
	"zh.xyz/dv/ora2pg/transpile"
)

// rule 查询包含frag且（arg非空时）参数中包含arg时返回rows
type rule struct {
	frag string
	arg  string
	rows []catalog.Row
}

type fakeReader struct {
	mu       sync.Mutex
	rules    []rule
	failExec map[string]error
	executed []string
}

func (f *fakeReader) on(frag, arg string, rows ...catalog.Row) *fakeReader {
	f.rules = append(f.rules, rule{frag: frag, arg: arg, rows: rows})
	return f
}

func (f *fakeReader) Query(_ context.Context, _ catalog.Target, query string, args ...any) ([]catalog.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		if !strings.Contains(query, r.frag) {
			continue
		}
		if r.arg != "" && !hasArg(args, r.arg) {
			continue
		}
		return r.rows, nil
	}
	return nil, nil
}

func hasArg(args []any, want string) bool {
	for _, a := range args {
		if s, ok := a.(string); ok && s == want {
			return true
		}
	}
	return false
}

func (f *fakeReader) Execute(_ context.Context, _ catalog.Target, stmt string, _ ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, stmt)
	for frag, err := range f.failExec {
		if strings.Contains(stmt, frag) {
			return err
		}
	}
	return nil
}

func (f *fakeReader) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

type fakeCopier struct {
	rows int64
	err  error

	mu     sync.Mutex
	copied []string
}

func (c *fakeCopier) Copy(_ context.Context, owner, schema string, table *models.TableDescriptor) (int64, error) {
	c.mu.Lock()
	c.copied = append(c.copied, owner+"."+table.Name+"->"+schema)
	c.mu.Unlock()
	return c.rows, c.err
}

type recordingRecorder struct {
	mu       sync.Mutex
	logs     []*models.MigrationLog
	objects  []*models.ObjectMigrationLog
	outer    []models.OuterReference
	manual   []*models.ManualArtifactRecord
	sessions []models.MigrationSession
}

func (r *recordingRecorder) Log(e *models.MigrationLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, e)
}

func (r *recordingRecorder) ObjectLog(e *models.ObjectMigrationLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects = append(r.objects, e)
}

func (r *recordingRecorder) OuterReferences(_ string, refs []models.OuterReference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outer = append(r.outer, refs...)
}

func (r *recordingRecorder) ManualArtifact(rec *models.ManualArtifactRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manual = append(r.manual, rec)
}

func (r *recordingRecorder) SaveSession(rec *models.MigrationSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, *rec)
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestEngine(t *testing.T, r *fakeReader, copier RowCopier, rec Recorder) *engine {
	t.Helper()
	ora := catalog.NewOracle(r, "HR")
	pg := catalog.NewPostgres(r, "hr")
	return &engine{
		ora:       ora,
		pg:        pg,
		reader:    r,
		copier:    copier,
		tp:        transpile.New(ora.Owner(), pg.Schema(), ora),
		artifacts: NewArtifacts(t.TempDir(), "outer_references.txt"),
		progress:  NewProgress("s1", 1, rec, quietLog()),
		rec:       rec,
		sessionID: "s1",
		inv: inventory{
			tables:   map[string]bool{"emp": true, "emp_v": true},
			routines: map[string]bool{},
			triggers: map[string]bool{},
		},
		seqOwner: "postgres",
		log:      quietLog(),
	}
}

func empDescriptor() *models.TableDescriptor {
	return &models.TableDescriptor{
		Name: "EMP",
		Columns: []models.Column{
			{Name: "EMPNO", DataType: "NUMBER", Precision: 4, HasScale: true},
			{Name: "ENAME", DataType: "VARCHAR2", Length: 10, Nullable: true},
			{Name: "DEPTNO", DataType: "NUMBER", Precision: 2, HasScale: true, Nullable: true},
		},
		PrimaryKey:    []string{"EMPNO"},
		AutoIncrement: &models.AutoIncrement{Column: "EMPNO", Sequence: "EMP_SEQ"},
		ForeignKeys: []models.ForeignKey{{
			Name: "FK_DEPT", Table: "EMP", Columns: []string{"DEPTNO"},
			RefOwner: "HR", RefTable: "DEPT", RefColumns: []string{"DEPTNO"}, OnDelete: models.OnDeleteCascade,
		}},
		Exists: true,
	}
}

func TestLoadTableStatements(t *testing.T) {
	r := (&fakeReader{}).on("MAX(empno)", "", catalog.Row{"max_value": int64(7)})
	copier := &fakeCopier{rows: 7}
	e := newTestEngine(t, r, copier, nopRecorder{})
	desc := empDescriptor()

	require.NoError(t, e.LoadTable(context.Background(), desc))

	assert.Equal(t, []string{
		"DROP TABLE IF EXISTS hr.emp CASCADE",
		transfer.CreateTableDDL("hr", desc),
		"ALTER TABLE hr.emp ADD PRIMARY KEY (empno)",
		"CREATE SEQUENCE IF NOT EXISTS hr.emp_empno_seq",
		"SELECT setval('hr.emp_empno_seq', 7, true)",
		"ALTER TABLE hr.emp ALTER COLUMN empno SET DEFAULT nextval('hr.emp_empno_seq')",
		"ALTER SEQUENCE hr.emp_empno_seq OWNED BY hr.emp.empno",
		"ALTER SEQUENCE hr.emp_empno_seq OWNER TO postgres",
		"ALTER TABLE hr.emp ADD CONSTRAINT fk_dept FOREIGN KEY (deptno) REFERENCES hr.dept (deptno) ON DELETE CASCADE",
	}, r.statements())
	assert.Equal(t, []string{"HR.EMP->hr"}, copier.copied)
	assert.Equal(t, ActionReplace, e.progress.action(models.ObjectKey{Kind: models.KindTable, Name: "EMP"}))
}

func TestLoadTableEmptySequenceStartsAtOne(t *testing.T) {
	r := &fakeReader{}
	e := newTestEngine(t, r, &fakeCopier{}, nopRecorder{})
	desc := empDescriptor()
	desc.ForeignKeys = nil

	require.NoError(t, e.LoadTable(context.Background(), desc))
	assert.Contains(t, r.statements(), "SELECT setval('hr.emp_empno_seq', 1, false)")
}

func TestLoadTableConstraintFailureIsNotFatal(t *testing.T) {
	r := &fakeReader{failExec: map[string]error{"ADD CONSTRAINT": errors.New(`relation "hr.dept" does not exist`)}}
	e := newTestEngine(t, r, &fakeCopier{rows: 1}, nopRecorder{})
	desc := empDescriptor()
	desc.AutoIncrement = nil

	require.NoError(t, e.LoadTable(context.Background(), desc))

	lines := strings.Join(e.progress.Lines(), "\n")
	assert.Contains(t, lines, "表emp的约束fk_dept创建失败")
	assert.Contains(t, lines, "导入完成，共1行")
}

func TestLoadTableCopyFailure(t *testing.T) {
	r := &fakeReader{}
	e := newTestEngine(t, r, &fakeCopier{err: errors.New("ORA-01555")}, nopRecorder{})

	err := e.LoadTable(context.Background(), empDescriptor())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORA-01555")
	for _, stmt := range r.statements() {
		assert.NotContains(t, stmt, "PRIMARY KEY")
	}
}

func TestExtractTable(t *testing.T) {
	r := (&fakeReader{}).
		on("FROM all_tab_columns", "ORDERS",
			catalog.Row{"COLUMN_NAME": "ID", "DATA_TYPE": "NUMBER", "DATA_PRECISION": int64(10), "DATA_SCALE": int64(0), "NULLABLE": "N"},
			catalog.Row{"COLUMN_NAME": "CUSTOMER_ID", "DATA_TYPE": "NUMBER", "NULLABLE": "Y"}).
		on("constraint_type = 'P'", "ORDERS", catalog.Row{"COLUMN_NAME": "ID"}).
		on("c.delete_rule", "ORDERS",
			catalog.Row{"CONSTRAINT_NAME": "FK_CUST", "DELETE_RULE": "NO ACTION", "COLUMN_NAME": "CUSTOMER_ID",
				"R_OWNER": "HR", "R_TABLE": "CUSTOMERS", "R_COLUMN": "ID"},
			catalog.Row{"CONSTRAINT_NAME": "FK_REGION", "DELETE_RULE": "NO ACTION", "COLUMN_NAME": "CUSTOMER_ID",
				"R_OWNER": "SALES", "R_TABLE": "REGIONS", "R_COLUMN": "ID"}).
		on("SELECT name, type, referenced_owner", "ORDERS",
			catalog.Row{"NAME": "TRG_ORDERS_ID", "TYPE": "TRIGGER", "REFERENCED_NAME": "ORDERS_SEQ", "REFERENCED_TYPE": "SEQUENCE"})
	e := newTestEngine(t, r, &fakeCopier{}, nopRecorder{})

	desc, err := e.ExtractTable(context.Background(), "ORDERS")
	require.NoError(t, err)
	assert.Len(t, desc.Columns, 2)
	assert.Equal(t, []string{"ID"}, desc.PrimaryKey)
	require.Len(t, desc.ForeignKeys, 1)
	assert.Equal(t, "CUSTOMERS", desc.ForeignKeys[0].RefTable)
	assert.Equal(t, []string{"CUSTOMERS"}, desc.References())
	assert.Equal(t, &models.AutoIncrement{Column: "ID", Sequence: "ORDERS_SEQ"}, desc.AutoIncrement)
	assert.False(t, desc.Exists)
}

func TestExtractTableMissing(t *testing.T) {
	e := newTestEngine(t, &fakeReader{}, &fakeCopier{}, nopRecorder{})
	_, err := e.ExtractTable(context.Background(), "GHOST")
	assert.Error(t, err)
}

func TestAutoIncrementFromDefault(t *testing.T) {
	e := newTestEngine(t, &fakeReader{}, &fakeCopier{}, nopRecorder{})
	cols := []models.Column{
		{Name: "ID", DataType: "NUMBER", Default: `"HR"."ITEM_SEQ".nextval`},
		{Name: "NAME", DataType: "VARCHAR2"},
	}
	auto, err := e.autoIncrement(context.Background(), "ITEMS", cols, []string{"ID"})
	require.NoError(t, err)
	assert.Equal(t, &models.AutoIncrement{Column: "ID", Sequence: "ITEM_SEQ"}, auto)

	auto, err = e.autoIncrement(context.Background(), "ITEMS", cols, []string{"NAME"})
	require.NoError(t, err)
	assert.Nil(t, auto)
}

func TestAutoIncrementCompositeKeyUsesTriggerColumn(t *testing.T) {
	r := (&fakeReader{}).
		on("SELECT name, type, referenced_owner", "LINES",
			catalog.Row{"NAME": "TRG_LINES", "TYPE": "TRIGGER", "REFERENCED_NAME": "LINE_SEQ", "REFERENCED_TYPE": "SEQUENCE"}).
		on("all_trigger_cols", "TRG_LINES", catalog.Row{"COLUMN_NAME": "NOTE"}, catalog.Row{"COLUMN_NAME": "LINE_NO"})
	e := newTestEngine(t, r, &fakeCopier{}, nopRecorder{})

	auto, err := e.autoIncrement(context.Background(), "LINES", nil, []string{"ORDER_ID", "LINE_NO"})
	require.NoError(t, err)
	assert.Equal(t, &models.AutoIncrement{Column: "LINE_NO", Sequence: "LINE_SEQ"}, auto)
}

func TestLoadObjectReplacesView(t *testing.T) {
	r := &fakeReader{}
	e := newTestEngine(t, r, &fakeCopier{}, nopRecorder{})
	obj := &models.SourceObject{
		Key:    models.ObjectKey{Kind: models.KindView, Name: "EMP_V"},
		Lines:  []string{`SELECT "EMPNO", "ENAME" FROM HR.EMP`},
		Exists: true,
	}

	require.NoError(t, e.LoadObject(context.Background(), obj))

	stmts := r.statements()
	require.Len(t, stmts, 2)
	assert.Equal(t, "DROP VIEW IF EXISTS hr.emp_v CASCADE", stmts[0])
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE OR REPLACE VIEW hr.emp_v AS"), stmts[1])
	assert.NotContains(t, stmts[1], "HR.")
	assert.Contains(t, strings.Join(e.progress.Lines(), "\n"), "替换中")
}

func TestLoadObjectUnsupportedGoesToManualFile(t *testing.T) {
	r := &fakeReader{}
	rec := &recordingRecorder{}
	e := newTestEngine(t, r, &fakeCopier{}, rec)
	obj := &models.SourceObject{
		Key: models.ObjectKey{Kind: models.KindProcedure, Name: "NOTIFY_ALL"},
		Lines: []string{
			"PROCEDURE notify_all IS",
			"BEGIN",
			"  DBMS_XYZ.FOO();",
			"END;",
		},
	}

	err := e.LoadObject(context.Background(), obj)
	require.ErrorIs(t, err, scheduler.ErrSkipped)
	assert.Empty(t, r.statements())

	path := e.artifacts.ManualPath("NOTIFY_ALL")
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "DBMS_XYZ.FOO")
	assert.Equal(t, "NOTIFY_ALL.txt", filepath.Base(path))

	require.Len(t, rec.manual, 1)
	assert.Equal(t, "NOTIFY_ALL", rec.manual[0].ObjectName)
	assert.Contains(t, rec.manual[0].Reason, "DBMS_XYZ")
	assert.Equal(t, ActionManual, e.progress.action(obj.Key))
}

func TestLoadObjectExecutionError(t *testing.T) {
	r := &fakeReader{failExec: map[string]error{"CREATE OR REPLACE VIEW": errors.New("syntax error")}}
	e := newTestEngine(t, r, &fakeCopier{}, nopRecorder{})
	obj := &models.SourceObject{
		Key:   models.ObjectKey{Kind: models.KindView, Name: "BROKEN_V"},
		Lines: []string{"SELECT 1 FROM EMP"},
	}

	err := e.LoadObject(context.Background(), obj)
	require.Error(t, err)
	assert.NotErrorIs(t, err, scheduler.ErrSkipped)
	assert.Contains(t, err.Error(), "创建VIEW BROKEN_V失败")
}

func TestExtractObject(t *testing.T) {
	r := (&fakeReader{}).
		on("SELECT text FROM all_source", "RAISE_SAL",
			catalog.Row{"TEXT": "PROCEDURE raise_sal IS\n"}, catalog.Row{"TEXT": "BEGIN NULL; END;\n"}).
		on("SELECT DISTINCT referenced_name, referenced_type FROM all_dependencies", "RAISE_SAL",
			catalog.Row{"REFERENCED_NAME": "CALC_BONUS", "REFERENCED_TYPE": "FUNCTION"}).
		on("SELECT text FROM all_views", "EMP_V", catalog.Row{"TEXT": "SELECT *\nFROM EMP"})
	e := newTestEngine(t, r, &fakeCopier{}, nopRecorder{})

	obj, err := e.ExtractObject(context.Background(), models.ObjectKey{Kind: models.KindProcedure, Name: "RAISE_SAL"})
	require.NoError(t, err)
	assert.Equal(t, []string{"PROCEDURE raise_sal IS", "BEGIN NULL; END;"}, obj.Lines)
	assert.Equal(t, []models.ObjectKey{{Kind: models.KindFunction, Name: "CALC_BONUS"}}, obj.Dependencies)
	assert.False(t, obj.Exists)

	view, err := e.ExtractObject(context.Background(), models.ObjectKey{Kind: models.KindView, Name: "EMP_V"})
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT *", "FROM EMP"}, view.Lines)
	assert.True(t, view.Exists)

	_, err = e.ExtractObject(context.Background(), models.ObjectKey{Kind: models.KindFunction, Name: "NOPE"})
	assert.Error(t, err)
}

func TestInventoryHas(t *testing.T) {
	inv := inventory{
		tables:   map[string]bool{"emp_v": true},
		routines: map[string]bool{"calc": true},
		triggers: map[string]bool{"trg_emp": true},
	}
	assert.True(t, inv.has(models.ObjectKey{Kind: models.KindView, Name: "EMP_V"}))
	assert.True(t, inv.has(models.ObjectKey{Kind: models.KindFunction, Name: `"HR"."CALC"`}))
	assert.True(t, inv.has(models.ObjectKey{Kind: models.KindTrigger, Name: "TRG_EMP"}))
	assert.False(t, inv.has(models.ObjectKey{Kind: models.KindProcedure, Name: "TRG_EMP"}))
}

func TestPreviewObject(t *testing.T) {
	r := (&fakeReader{}).
		on("SELECT text FROM all_views", "EMP_V", catalog.Row{"TEXT": `SELECT "EMPNO" FROM HR.EMP`})

	tr, err := PreviewObject(context.Background(), r, "hr", "HR", models.ObjectKey{Kind: models.KindView, Name: "EMP_V"})
	require.NoError(t, err)
	assert.Nil(t, tr.Manual)
	require.Len(t, tr.Statements, 1)
	assert.True(t, strings.HasPrefix(tr.Statements[0], "CREATE OR REPLACE VIEW hr.emp_v AS"), tr.Statements[0])
	assert.Empty(t, r.statements())

	_, err = PreviewObject(context.Background(), r, "hr", "HR", models.ObjectKey{Kind: models.KindFunction, Name: "NOPE"})
	assert.Error(t, err)
}
