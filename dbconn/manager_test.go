package dbconn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"zh.xyz/dv/ora2pg/models"
)

func TestOracleDSN(t *testing.T) {
	dsn := OracleDSN(&models.DatabaseConnection{
		Host: "ora.local", Port: "1521", Database: "ORCLPDB1", Username: "hr", Password: `p"w`,
	})
	assert.Equal(t, `user="hr" password="p\"w" connectString="ora.local:1521/ORCLPDB1"`, dsn)
}

func TestPostgresDSN(t *testing.T) {
	conn := &models.DatabaseConnection{
		Host: "pg.local", Port: "5432", Database: "app", Username: "etl", Password: "it's secret",
	}
	assert.Equal(t,
		`host=pg.local port=5432 user=etl password='it\'s secret' dbname=app sslmode=disable search_path=hr`,
		PostgresDSN(conn, "HR"))
	assert.NotContains(t, PostgresDSN(conn, ""), "search_path")
	assert.Contains(t, PostgresDSN(&models.DatabaseConnection{}, ""), "password=''")
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open(context.Background(), &models.DatabaseConnection{Type: "mysql"}, "")
	assert.EqualError(t, err, "unsupported database type: mysql")
}
