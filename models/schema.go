package models

import (
	"fmt"
	"strings"
)

// ObjectKind 存储对象类型
type ObjectKind string

const (
	KindTable     ObjectKind = "TABLE"
	KindFunction  ObjectKind = "FUNCTION"
	KindProcedure ObjectKind = "PROCEDURE"
	KindTrigger   ObjectKind = "TRIGGER"
	KindView      ObjectKind = "VIEW"
)

// ParseObjectKind 解析对象类型（不区分大小写）
func ParseObjectKind(s string) (ObjectKind, bool) {
	switch k := ObjectKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindTable, KindFunction, KindProcedure, KindTrigger, KindView:
		return k, true
	}
	return "", false
}

// Routine 是否为可编程对象（函数/存储过程）
func (k ObjectKind) Routine() bool {
	return k == KindFunction || k == KindProcedure
}

// ObjectKey 存储对象标识
type ObjectKey struct {
	Kind ObjectKind `json:"kind"`
	Name string     `json:"name"`
}

func (k ObjectKey) String() string {
	return fmt.Sprintf("%s %s", k.Kind, k.Name)
}

// OnDeleteRule 外键删除规则
type OnDeleteRule string

const (
	OnDeleteCascade  OnDeleteRule = "CASCADE"
	OnDeleteSetNull  OnDeleteRule = "SET NULL"
	OnDeleteRestrict OnDeleteRule = "RESTRICT"
	OnDeleteNoAction OnDeleteRule = "NO ACTION"
)

// ParseOnDeleteRule 将Oracle的delete_rule转换为规则枚举，未知值按NO ACTION处理
func ParseOnDeleteRule(s string) OnDeleteRule {
	switch r := OnDeleteRule(strings.ToUpper(strings.TrimSpace(s))); r {
	case OnDeleteCascade, OnDeleteSetNull, OnDeleteRestrict:
		return r
	}
	return OnDeleteNoAction
}

// Column 源表列信息
type Column struct {
	Name      string
	DataType  string
	Length    int64
	Precision int64
	Scale     int64
	HasScale  bool
	Nullable  bool
	Default   string
}

// ForeignKey 外键约束
type ForeignKey struct {
	Name       string
	Table      string
	Columns    []string
	RefOwner   string
	RefTable   string
	RefColumns []string
	OnDelete   OnDeleteRule
}

// AutoIncrement 自增列及其源序列
type AutoIncrement struct {
	Column   string
	Sequence string
}

// TableDescriptor 表的抽取结果，由加载器消费一次
type TableDescriptor struct {
	Name          string
	Columns       []Column
	PrimaryKey    []string
	ForeignKeys   []ForeignKey
	AutoIncrement *AutoIncrement
	// Exists 目标库中是否已存在同名表
	Exists bool
}

// References 返回该表外键引用的表（去重，保持顺序）
func (t *TableDescriptor) References() []string {
	seen := make(map[string]bool)
	var refs []string
	for _, fk := range t.ForeignKeys {
		if !seen[fk.RefTable] {
			seen[fk.RefTable] = true
			refs = append(refs, fk.RefTable)
		}
	}
	return refs
}

// SourceObject 存储对象的抽取结果
type SourceObject struct {
	Key          ObjectKey
	Lines        []string
	Dependencies []ObjectKey
	Exists       bool
}

// OuterReference 跨schema依赖，不迁移，仅记录
type OuterReference struct {
	Object    ObjectKey `json:"object"`
	RefSchema string    `json:"ref_schema"`
	RefObject ObjectKey `json:"ref_object"`
}

func (r OuterReference) String() string {
	return fmt.Sprintf("对象: %s, 类型: %s -> 引用schema: %s, 对象: %s, 类型: %s",
		r.Object.Name, r.Object.Kind, r.RefSchema, r.RefObject.Name, r.RefObject.Kind)
}

// ManualArtifact 无法自动转换的对象，写入人工迁移文件
type ManualArtifact struct {
	Name   string
	Kind   ObjectKind
	Reason error
	Text   string
}
