package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"zh.xyz/dv/ora2pg/config"
)

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN(config.DatabaseConfig{
		Host: "localhost", Port: "3306", User: "root", Password: "secret", DBName: "ora2pg",
	})
	assert.Contains(t, dsn, "root:secret@tcp(localhost:3306)/ora2pg?")
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "loc=Local")
}

func TestInitDatabaseRejectsUnknownType(t *testing.T) {
	config.GlobalConfig = config.Default()
	config.GlobalConfig.Database.Type = "sqlite"
	assert.EqualError(t, InitDatabase(), "unsupported database type: sqlite")
}
