package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/ora2pg/models"
)

type recorded struct {
	target Target
	query  string
	args   []any
}

// fakeReader 按查询片段返回预置结果
type fakeReader struct {
	results  map[string][]Row
	err      error
	queries  []recorded
	executed []recorded
}

func (f *fakeReader) Query(_ context.Context, target Target, query string, args ...any) ([]Row, error) {
	f.queries = append(f.queries, recorded{target, query, args})
	if f.err != nil {
		return nil, f.err
	}
	for frag, rows := range f.results {
		if strings.Contains(query, frag) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeReader) Execute(_ context.Context, target Target, stmt string, args ...any) error {
	f.executed = append(f.executed, recorded{target, stmt, args})
	return f.err
}

func TestRowAccessors(t *testing.T) {
	row := Row{
		"NAME":     "EMP",
		"cnt":      int64(7),
		"scale":    "2",
		"numeric":  float64(3.9),
		"usesuper": true,
		"flag":     "Y",
		"nothing":  nil,
	}

	assert.Equal(t, "EMP", row.String("name"))
	assert.Equal(t, "", row.String("missing"))
	assert.Equal(t, "7", row.String("cnt"))
	assert.Equal(t, int64(7), row.Int("CNT"))
	assert.Equal(t, int64(2), row.Int("scale"))
	assert.Equal(t, int64(3), row.Int("numeric"))
	assert.Equal(t, int64(0), row.Int("name"))
	assert.True(t, row.IsNull("nothing"))
	assert.True(t, row.IsNull("missing"))
	assert.False(t, row.IsNull("name"))
	assert.True(t, row.Bool("usesuper"))
	assert.True(t, row.Bool("flag"))
	assert.False(t, row.Bool("name"))
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "abc", normalizeValue([]byte("abc")))
	assert.Equal(t, int64(1), normalizeValue(int64(1)))
	assert.Equal(t, "ab", normalizeValue([]byte{'a', 0xff, 'b'}))
}

func TestCatalogErrorTruncatesStatement(t *testing.T) {
	cause := errors.New("ORA-00942")
	err := &CatalogError{Op: "query", Target: Source, Statement: strings.Repeat("x", 300), Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Less(t, len(err.Error()), 300)
	assert.Contains(t, err.Error(), "ORA-00942")
}

func TestSQLReaderWithoutConnection(t *testing.T) {
	r := NewSQLReader(nil, nil)
	_, err := r.Query(context.Background(), Source, "SELECT 1 FROM dual")
	var ce *CatalogError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Source, ce.Target)

	err = r.Execute(context.Background(), Destination, "SELECT 1")
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, Destination, ce.Target)
}

func TestOracleForeignKeysGroupedByConstraint(t *testing.T) {
	fr := &fakeReader{results: map[string][]Row{
		"constraint_type = 'R'": {
			{"CONSTRAINT_NAME": "FK_A", "DELETE_RULE": "CASCADE", "COLUMN_NAME": "C1", "R_OWNER": "HR", "R_TABLE": "PARENT", "R_COLUMN": "P1"},
			{"CONSTRAINT_NAME": "FK_A", "DELETE_RULE": "CASCADE", "COLUMN_NAME": "C2", "R_OWNER": "HR", "R_TABLE": "PARENT", "R_COLUMN": "P2"},
			{"CONSTRAINT_NAME": "FK_B", "DELETE_RULE": "NO ACTION", "COLUMN_NAME": "D1", "R_OWNER": "HR", "R_TABLE": "OTHER", "R_COLUMN": "ID"},
		},
	}}
	o := NewOracle(fr, "hr")

	fks, err := o.ForeignKeys(context.Background(), "CHILD")
	require.NoError(t, err)
	require.Len(t, fks, 2)
	assert.Equal(t, models.ForeignKey{
		Name: "FK_A", Table: "CHILD", Columns: []string{"C1", "C2"},
		RefOwner: "HR", RefTable: "PARENT", RefColumns: []string{"P1", "P2"},
		OnDelete: models.OnDeleteCascade,
	}, fks[0])
	assert.Equal(t, models.OnDeleteNoAction, fks[1].OnDelete)
	assert.Equal(t, []any{"HR", "CHILD"}, fr.queries[0].args)
	assert.Equal(t, Source, fr.queries[0].target)
}

func TestOracleVisibleSchemas(t *testing.T) {
	fr := &fakeReader{results: map[string][]Row{
		"user_role_privs": {{"CNT": int64(0)}},
		"all_users":       {{"USERNAME": "HR"}, {"USERNAME": "SALES"}},
	}}
	schemas, dba, err := NewOracle(fr, "HR").VisibleSchemas(context.Background())
	require.NoError(t, err)
	assert.False(t, dba)
	assert.Equal(t, []string{"HR"}, schemas)
	require.Len(t, fr.queries, 1)

	fr.results["user_role_privs"] = []Row{{"CNT": int64(1)}}
	schemas, dba, err = NewOracle(fr, "HR").VisibleSchemas(context.Background())
	require.NoError(t, err)
	assert.True(t, dba)
	assert.Equal(t, []string{"HR", "SALES"}, schemas)

	fr.err = errors.New("ORA-01031: insufficient privileges")
	_, _, err = NewOracle(fr, "HR").VisibleSchemas(context.Background())
	assert.Error(t, err)
}

func TestOracleObjectsSkipsUnknownKinds(t *testing.T) {
	fr := &fakeReader{results: map[string][]Row{
		"all_source": {
			{"NAME": "P1", "TYPE": "PROCEDURE"},
			{"NAME": "PKG", "TYPE": "PACKAGE"},
			{"NAME": "V1", "TYPE": "VIEW"},
		},
	}}
	keys, err := NewOracle(fr, "HR").Objects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.ObjectKey{
		{Kind: models.KindProcedure, Name: "P1"},
		{Kind: models.KindView, Name: "V1"},
	}, keys)
}

func TestOracleSourceLinesCached(t *testing.T) {
	fr := &fakeReader{results: map[string][]Row{
		"FROM all_source": {{"TEXT": "PROCEDURE p IS\n"}, {"TEXT": "BEGIN NULL; END;\r\n"}},
	}}
	o := NewOracle(fr, "HR")
	key := models.ObjectKey{Kind: models.KindProcedure, Name: "P"}

	first, err := o.SourceLines(context.Background(), key)
	require.NoError(t, err)
	second, err := o.SourceLines(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, []string{"PROCEDURE p IS", "BEGIN NULL; END;"}, first)
	assert.Equal(t, first, second)
	assert.Len(t, fr.queries, 1)
	assert.Equal(t, []any{"HR", "P", "PROCEDURE"}, fr.queries[0].args)
}

func TestOracleColumns(t *testing.T) {
	fr := &fakeReader{results: map[string][]Row{
		"all_tab_columns": {
			{"COLUMN_NAME": "ID", "DATA_TYPE": "NUMBER", "DATA_LENGTH": int64(22), "DATA_PRECISION": int64(10), "DATA_SCALE": int64(0), "NULLABLE": "N", "DATA_DEFAULT": "\"HR\".\"EMP_SEQ\".\"NEXTVAL\" "},
			{"COLUMN_NAME": "NOTE", "DATA_TYPE": "VARCHAR2", "DATA_LENGTH": int64(100), "DATA_PRECISION": nil, "DATA_SCALE": nil, "NULLABLE": "Y", "DATA_DEFAULT": nil},
		},
	}}
	cols, err := NewOracle(fr, "HR").Columns(context.Background(), "EMP")
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.True(t, cols[0].HasScale)
	assert.False(t, cols[0].Nullable)
	assert.Equal(t, `"HR"."EMP_SEQ"."NEXTVAL"`, cols[0].Default)
	assert.False(t, cols[1].HasScale)
	assert.True(t, cols[1].Nullable)
	assert.Equal(t, int64(100), cols[1].Length)
}

func TestOracleQueryErrorPropagates(t *testing.T) {
	fr := &fakeReader{err: errors.New("boom")}
	_, err := NewOracle(fr, "HR").Tables(context.Background())
	assert.EqualError(t, err, "boom")
}

func TestPostgresCanCreate(t *testing.T) {
	fr := &fakeReader{results: map[string][]Row{"privilege": {{"allowed": true}}}}
	p := NewPostgres(fr, "HR")

	ok, err := p.CanCreate(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, fr.queries[0].query, "has_schema_privilege")
	assert.Equal(t, []any{"hr"}, fr.queries[0].args)

	_, err = p.CanCreate(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, fr.queries[1].query, "has_database_privilege")
	assert.Empty(t, fr.queries[1].args)
}

func TestPostgresSchemaStatements(t *testing.T) {
	fr := &fakeReader{results: map[string][]Row{
		"pg_namespace": {{"nspname": "public"}, {"nspname": "hr"}},
		"MAX(":         {{"max_value": int64(42)}},
	}}
	p := NewPostgres(fr, "HR")

	exists, err := p.SchemaExists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, p.CreateSchema(context.Background()))
	require.NoError(t, p.DropSchema(context.Background()))
	assert.Equal(t, "CREATE SCHEMA IF NOT EXISTS hr", fr.executed[0].query)
	assert.Equal(t, "DROP SCHEMA IF EXISTS hr CASCADE", fr.executed[1].query)
	assert.Equal(t, Destination, fr.executed[0].target)

	max, err := p.MaxValue(context.Background(), "emp", "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), max)
}

func TestPostgresDefaultsToPublic(t *testing.T) {
	assert.Equal(t, "public", NewPostgres(&fakeReader{}, "").Schema())
}
