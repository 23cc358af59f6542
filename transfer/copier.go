package transfer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/godror/godror"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"zh.xyz/dv/ora2pg/models"
)

const (
	DefaultShards    = 5
	DefaultBatchSize = 100000
)

// Copier 将Oracle表数据分片并行写入PostgreSQL（COPY）
type Copier struct {
	source    *sql.DB
	dest      *sql.DB
	shards    int
	batchSize int
	log       *logrus.Entry
}

// NewCopier 创建数据复制器，shards/batchSize<=0时使用默认值
func NewCopier(source, dest *sql.DB, shards, batchSize int, log *logrus.Entry) *Copier {
	if shards <= 0 {
		shards = DefaultShards
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Copier{source: source, dest: dest, shards: shards, batchSize: batchSize, log: log}
}

// ShardQuery 按ROWID哈希切分的源端查询
func ShardQuery(owner string, table *models.TableDescriptor, shards int) string {
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = fmt.Sprintf("%q", c.Name)
	}
	return fmt.Sprintf(`SELECT %s FROM %q.%q WHERE ORA_HASH(ROWID, %d) = :1`,
		strings.Join(cols, ", "), owner, table.Name, shards-1)
}

// Copy 复制一张表的全部数据，返回写入行数；任一分片失败则取消其余分片
func (c *Copier) Copy(ctx context.Context, owner, schema string, table *models.TableDescriptor) (int64, error) {
	query := ShardQuery(owner, table, c.shards)
	columns := ColumnNames(table.Columns)
	types := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		types[i] = PostgresType(col)
	}
	target := strings.ToLower(table.Name)
	log := c.log.WithField("table", target)

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for shard := 0; shard < c.shards; shard++ {
		shard := shard
		g.Go(func() error {
			n, err := c.copyShard(gctx, query, shard, schema, target, columns, types)
			total.Add(n)
			if err != nil {
				return fmt.Errorf("分片%d写入失败: %w", shard, err)
			}
			log.WithField("shard", shard).Debugf("写入%d行", n)
			return nil
		})
	}
	err := g.Wait()
	return total.Load(), err
}

func (c *Copier) copyShard(ctx context.Context, query string, shard int, schema, table string, columns, types []string) (int64, error) {
	rows, err := c.source.QueryContext(ctx, query, shard)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var (
		written int64
		batch   = make([][]any, 0, min(c.batchSize, 1024))
	)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return written, err
		}
		for i, v := range values {
			values[i] = normalizeValue(v, types[i])
		}
		batch = append(batch, values)

		if len(batch) >= c.batchSize {
			if err := c.flush(ctx, schema, table, columns, batch); err != nil {
				return written, err
			}
			written += int64(len(batch))
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return written, err
	}
	if len(batch) > 0 {
		if err := c.flush(ctx, schema, table, columns, batch); err != nil {
			return written, err
		}
		written += int64(len(batch))
	}
	return written, nil
}

// flush 一个批次使用一次COPY并单独提交
func (c *Copier) flush(ctx context.Context, schema, table string, columns []string, batch [][]any) error {
	tx, err := c.dest.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(schema, table, columns...))
	if err != nil {
		return err
	}
	for _, row := range batch {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			return err
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

// normalizeValue 将驱动返回的值转换为COPY可接受的形式
func normalizeValue(v any, pgType string) any {
	switch val := v.(type) {
	case nil:
		return nil
	case godror.Number:
		return string(val)
	case string:
		return sanitizeString(val)
	case []byte:
		if pgType == "uuid" && len(val) == 16 {
			if id, err := uuid.FromBytes(val); err == nil {
				return id.String()
			}
		}
		return val
	case time.Time:
		return val
	}
	return v
}

// sanitizeString 替换非法UTF-8字节并去掉PostgreSQL不接受的NUL
func sanitizeString(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return strings.ReplaceAll(s, "\x00", "")
}
