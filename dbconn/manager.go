package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/godror/godror"
	_ "github.com/lib/pq"
	"zh.xyz/dv/ora2pg/models"
)

var connectionPool = sync.Map{}

// OracleDSN godror连接串
func OracleDSN(conn *models.DatabaseConnection) string {
	return fmt.Sprintf(`user=%s password=%s connectString=%s`,
		quote(conn.Username), quote(conn.Password), quote(fmt.Sprintf("%s:%s/%s", conn.Host, conn.Port, conn.Database)))
}

// PostgresDSN lib/pq连接串，schema非空时设置search_path
func PostgresDSN(conn *models.DatabaseConnection, schema string) string {
	parts := []string{
		"host=" + pqValue(conn.Host),
		"port=" + pqValue(conn.Port),
		"user=" + pqValue(conn.Username),
		"password=" + pqValue(conn.Password),
		"dbname=" + pqValue(conn.Database),
		"sslmode=disable",
	}
	if schema != "" {
		parts = append(parts, "search_path="+pqValue(strings.ToLower(schema)))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func pqValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `'` + strings.ReplaceAll(s, `'`, `\'`) + `'`
}

// Open 打开原生连接并检查连通性
func Open(ctx context.Context, conn *models.DatabaseConnection, schema string) (*sql.DB, error) {
	var driverName, dsn string
	switch conn.Type {
	case models.ConnOracle:
		driverName, dsn = "godror", OracleDSN(conn)
	case models.ConnPostgres:
		driverName, dsn = "postgres", PostgresDSN(conn, schema)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", conn.Type)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// GetRawConnection 获取缓存的原生连接（用于目录浏览），迁移会话使用Open单独建立连接
func GetRawConnection(ctx context.Context, conn *models.DatabaseConnection) (*sql.DB, error) {
	key := fmt.Sprintf("%d", conn.ID)
	if db, ok := connectionPool.Load(key); ok {
		return db.(*sql.DB), nil
	}

	db, err := Open(ctx, conn, "")
	if err != nil {
		return nil, err
	}
	if actual, loaded := connectionPool.LoadOrStore(key, db); loaded {
		db.Close()
		return actual.(*sql.DB), nil
	}
	return db, nil
}

// CloseConnection 关闭数据库连接
func CloseConnection(dbConnID uint) {
	key := fmt.Sprintf("%d", dbConnID)
	if conn, ok := connectionPool.LoadAndDelete(key); ok {
		if db, ok := conn.(*sql.DB); ok {
			db.Close()
		}
	}
}
