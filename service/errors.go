package service

import (
	"errors"
	"fmt"
)

var (
	ErrSessionRunning  = errors.New("该任务已有迁移会话正在执行")
	ErrSessionNotFound = errors.New("迁移会话不存在")
)

// ConnectionError 无法建立源或目标连接，会话直接失败
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("连接%s失败: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PermissionError 目标库用户没有创建权限
type PermissionError struct {
	Schema string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("没有在schema %s中创建对象的权限: %s", e.Schema, e.Reason)
}

// ConstraintError 外键约束创建失败，记录后继续
type ConstraintError struct {
	Table      string
	Constraint string
	Statement  string
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("表%s的约束%s创建失败: %v", e.Table, e.Constraint, e.Err)
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}
