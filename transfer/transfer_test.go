package transfer

import (
	"testing"
	"time"

	"github.com/godror/godror"
	"github.com/stretchr/testify/assert"
	"zh.xyz/dv/ora2pg/models"
)

func TestPostgresType(t *testing.T) {
	cases := []struct {
		col  models.Column
		want string
	}{
		{models.Column{DataType: "NUMBER"}, "numeric"},
		{models.Column{DataType: "NUMBER", Precision: 4, HasScale: true}, "smallint"},
		{models.Column{DataType: "NUMBER", Precision: 9, HasScale: true}, "integer"},
		{models.Column{DataType: "NUMBER", Precision: 18, HasScale: true}, "bigint"},
		{models.Column{DataType: "NUMBER", Precision: 30, HasScale: true}, "numeric(30)"},
		{models.Column{DataType: "NUMBER", Precision: 10, Scale: 2, HasScale: true}, "numeric(10,2)"},
		{models.Column{DataType: "NUMBER", HasScale: true}, "numeric(38)"},
		{models.Column{DataType: "VARCHAR2", Length: 30}, "varchar(30)"},
		{models.Column{DataType: "NVARCHAR2"}, "varchar"},
		{models.Column{DataType: "CHAR", Length: 1}, "char(1)"},
		{models.Column{DataType: "CLOB"}, "text"},
		{models.Column{DataType: "BLOB"}, "bytea"},
		{models.Column{DataType: "RAW", Length: 16}, "uuid"},
		{models.Column{DataType: "RAW", Length: 2000}, "bytea"},
		{models.Column{DataType: "DATE"}, "timestamp(0)"},
		{models.Column{DataType: "TIMESTAMP(6)"}, "timestamp"},
		{models.Column{DataType: "TIMESTAMP(6) WITH TIME ZONE"}, "timestamptz"},
		{models.Column{DataType: "INTERVAL DAY(2) TO SECOND(6)"}, "interval"},
		{models.Column{DataType: "BINARY_DOUBLE"}, "double precision"},
		{models.Column{DataType: "SDO_GEOMETRY"}, "text"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, PostgresType(c.col), c.col.DataType)
	}
}

func TestCreateTableDDL(t *testing.T) {
	ddl := CreateTableDDL("hr", &models.TableDescriptor{
		Name: "EMP",
		Columns: []models.Column{
			{Name: "EMPNO", DataType: "NUMBER", Precision: 4, HasScale: true},
			{Name: "ENAME", DataType: "VARCHAR2", Length: 10, Nullable: true},
		},
	})
	assert.Equal(t, "CREATE TABLE hr.emp (\n    empno smallint NOT NULL,\n    ename varchar(10)\n)", ddl)
}

func TestShardQuery(t *testing.T) {
	q := ShardQuery("HR", &models.TableDescriptor{
		Name:    "EMP",
		Columns: []models.Column{{Name: "EMPNO"}, {Name: "ENAME"}},
	}, 5)
	assert.Equal(t, `SELECT "EMPNO", "ENAME" FROM "HR"."EMP" WHERE ORA_HASH(ROWID, 4) = :1`, q)
}

func TestColumnNames(t *testing.T) {
	assert.Equal(t, []string{"empno", "ename"}, ColumnNames([]models.Column{{Name: "EMPNO"}, {Name: "Ename"}}))
}

func TestNormalizeValue(t *testing.T) {
	guid := []byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0}
	now := time.Now()

	assert.Nil(t, normalizeValue(nil, "text"))
	assert.Equal(t, "12.5", normalizeValue(godror.Number("12.5"), "numeric"))
	assert.Equal(t, "ab", normalizeValue("a\x00b", "text"))
	assert.Equal(t, "a\uFFFDb", normalizeValue("a\xffb", "text"))
	assert.Equal(t, "12345678-9abc-def0-1234-56789abcdef0", normalizeValue(guid, "uuid"))
	assert.Equal(t, guid, normalizeValue(guid, "bytea"))
	assert.Equal(t, now, normalizeValue(now, "timestamp"))
	assert.Equal(t, int64(3), normalizeValue(int64(3), "integer"))
}

func TestNewCopierDefaults(t *testing.T) {
	c := NewCopier(nil, nil, 0, -1, nil)
	assert.Equal(t, DefaultShards, c.shards)
	assert.Equal(t, DefaultBatchSize, c.batchSize)
}
