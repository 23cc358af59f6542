package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"zh.xyz/dv/ora2pg/models"
)

// Artifacts 人工迁移文件与跨schema引用记录
type Artifacts struct {
	manualDir    string
	outerRefFile string
	now          func() time.Time

	mu sync.Mutex
}

// NewArtifacts outerRefFile为相对路径时放在manualDir下
func NewArtifacts(manualDir, outerRefFile string) *Artifacts {
	if outerRefFile != "" && !filepath.IsAbs(outerRefFile) {
		outerRefFile = filepath.Join(manualDir, outerRefFile)
	}
	return &Artifacts{manualDir: manualDir, outerRefFile: outerRefFile, now: time.Now}
}

// OuterRefFile 跨schema引用记录文件
func (a *Artifacts) OuterRefFile() string {
	return a.outerRefFile
}

// ManualPath 对象的人工迁移文件路径
func (a *Artifacts) ManualPath(name string) string {
	return filepath.Join(a.manualDir, fileName(name)+".txt")
}

// WriteManual 写入人工迁移文件（覆盖同名文件），返回文件路径
func (a *Artifacts) WriteManual(m *models.ManualArtifact) (string, error) {
	if err := os.MkdirAll(a.manualDir, 0o755); err != nil {
		return "", err
	}
	path := a.ManualPath(m.Name)
	body := m.Text
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// AppendOuterReferences 追加一次会话排除的跨schema引用
func (a *Artifacts) AppendOuterReferences(owner, schema string, refs []models.OuterReference) error {
	if len(refs) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.outerRefFile), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(a.outerRefFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ETL会话 Oracle %s -> Postgres %s\n", a.now().Format("2006-01-02 15:04:05"), owner, schema)
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for _, ref := range refs {
		fmt.Fprintf(&b, "用户: %s, %s\n", owner, ref)
	}
	b.WriteString("\n\n")
	_, err = f.WriteString(b.String())
	return err
}

func fileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
