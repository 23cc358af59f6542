//go:generate go run go.uber.org/mock/mockgen -package service -destination mock_test.go zh.xyz/dv/ora2pg/service Backup

package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"zh.xyz/dv/ora2pg/config"
	"zh.xyz/dv/ora2pg/models"
)

// Backup 目标schema的备份与恢复
type Backup interface {
	Dump(ctx context.Context, schema string) (string, error)
	Restore(ctx context.Context, schema, file string) error
}

// PgDump 调用pg_dump/pg_restore备份目标schema，密码通过PGPASSWORD传递
type PgDump struct {
	conn       *models.DatabaseConnection
	dir        string
	dumpBin    string
	restoreBin string
	log        *logrus.Entry
}

// NewPgDump 创建备份执行器
func NewPgDump(conn *models.DatabaseConnection, mc config.MigrationConfig, log *logrus.Entry) *PgDump {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PgDump{
		conn:       conn,
		dir:        mc.BackupDir,
		dumpBin:    mc.PgDump,
		restoreBin: mc.PgRestore,
		log:        log.WithField("component", "backup"),
	}
}

// BackupFile schema的备份文件路径
func (p *PgDump) BackupFile(schema string) string {
	return filepath.Join(p.dir, strings.ToLower(schema)+"_backup.dmp")
}

func (p *PgDump) connArgs() []string {
	return []string{"--no-password", "-h", p.conn.Host, "-p", p.conn.Port, "-d", p.conn.Database, "-U", p.conn.Username}
}

func (p *PgDump) dumpArgs(schema, file string) []string {
	return append(p.connArgs(), "-n", strings.ToLower(schema), "-Fc", "-f", file)
}

func (p *PgDump) restoreArgs(file string) []string {
	return append(p.connArgs(), file)
}

// Dump 以自定义格式导出schema
func (p *PgDump) Dump(ctx context.Context, schema string) (string, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", err
	}
	file := p.BackupFile(schema)
	if err := p.run(ctx, p.dumpBin, p.dumpArgs(schema, file)); err != nil {
		return "", err
	}
	p.log.WithField("file", file).Info("备份完成")
	return file, nil
}

// Restore 从备份文件恢复；调用方负责先删除schema
func (p *PgDump) Restore(ctx context.Context, schema, file string) error {
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("备份文件不可用: %w", err)
	}
	if err := p.run(ctx, p.restoreBin, p.restoreArgs(file)); err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{"schema": schema, "file": file}).Info("已从备份恢复")
	return nil
}

func (p *PgDump) run(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+p.conn.Password)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s执行失败: %w: %s", filepath.Base(bin), err, strings.TrimSpace(string(out)))
	}
	return nil
}
