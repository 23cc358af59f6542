package transpile

import "fmt"

// UnsupportedConstructError 对象包含没有改写规则的结构，转人工迁移
type UnsupportedConstructError struct {
	Object    string
	Construct string
}

func (e *UnsupportedConstructError) Error() string {
	return fmt.Sprintf("%s 包含不支持的结构 %s", e.Object, e.Construct)
}

// AmbiguousTransformError 无法安全改写（如工厂函数），转人工迁移
type AmbiguousTransformError struct {
	Object string
	Reason string
}

func (e *AmbiguousTransformError) Error() string {
	return fmt.Sprintf("%s 无法自动转换: %s", e.Object, e.Reason)
}
