package catalog

import "fmt"

// CatalogError 目录查询或执行失败，不做内部重试
type CatalogError struct {
	Op        string
	Target    Target
	Statement string
	Err       error
}

func (e *CatalogError) Error() string {
	stmt := e.Statement
	if len(stmt) > 120 {
		stmt = stmt[:120] + "..."
	}
	return fmt.Sprintf("catalog %s on %s failed: %v [%s]", e.Op, e.Target, e.Err, stmt)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}
