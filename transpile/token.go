package transpile

import (
	"strings"

	"zh.xyz/dv/ora2pg/models"
)

// Tokenize 将存储对象源码切分为词元流。
// 词元以空白分隔，单引号字符串内的空白不切分，注释被丢弃。
// 函数、存储过程和触发器的第二个词元为规范化后的对象名，紧跟名称的参数列表被拆成独立词元。
func Tokenize(kind models.ObjectKind, lines []string) (string, []string) {
	tokens := lex(strings.Join(lines, "\n"))
	if len(tokens) > 0 && isWord(tokens[0], "EDITIONABLE", "NONEDITIONABLE") {
		tokens = tokens[1:]
	}
	if kind == models.KindView || len(tokens) < 2 {
		return "", tokens
	}

	head, rest := tokens[1], ""
	if i := strings.Index(head, "("); i > 0 {
		head, rest = head[:i], head[i:]
	}
	name := NormalizeName(head)

	out := make([]string, 0, len(tokens)+1)
	out = append(out, tokens[0], name)
	if rest != "" {
		out = append(out, rest)
	}
	out = append(out, tokens[2:]...)
	return name, out
}

// NormalizeName 去掉schema前缀和引号
func NormalizeName(s string) string {
	s = strings.ReplaceAll(s, `"`, "")
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func lex(text string) []string {
	var (
		tokens       []string
		cur          strings.Builder
		inQuote      bool
		lineComment  bool
		blockComment bool
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		next := byte(0)
		if i+1 < len(text) {
			next = text[i+1]
		}
		switch {
		case lineComment:
			if c == '\n' {
				lineComment = false
			}
		case blockComment:
			if c == '*' && next == '/' {
				blockComment = false
				i++
			}
		case inQuote:
			cur.WriteByte(c)
			if c == '\'' {
				inQuote = false
			}
		case c == '\'':
			inQuote = true
			cur.WriteByte(c)
		case c == '-' && next == '-':
			flush()
			lineComment = true
		case c == '/' && next == '*':
			flush()
			blockComment = true
			i++
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()

	// SQL*Plus的结束符
	if n := len(tokens); n > 0 && tokens[n-1] == "/" {
		tokens = tokens[:n-1]
	}
	return tokens
}

// isWord 词元是否等于任一关键字（不区分大小写）
func isWord(tok string, words ...string) bool {
	for _, w := range words {
		if strings.EqualFold(tok, w) {
			return true
		}
	}
	return false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// parens 统计词元中引号外的左右括号数量
func parens(tok string) (open, closed int) {
	inQuote := false
	for i := 0; i < len(tok); i++ {
		switch c := tok[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			open++
		case c == ')':
			closed++
		}
	}
	return open, closed
}

// matchParen 返回与open位置左括号匹配的右括号位置，找不到返回-1
func matchParen(s string, open int) int {
	depth, inQuote := 0, false
	for i := open; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// indexUnquoted 引号外第一次出现sub的位置
func indexUnquoted(s, sub string) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			inQuote = !inQuote
			continue
		}
		if !inQuote && strings.HasPrefix(s[i:], sub) {
			return i
		}
	}
	return -1
}

// splitTop 在括号和引号之外按sep切分
func splitTop(s, sep string) []string {
	var parts []string
	depth, inQuote, start := 0, false, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			parts = append(parts, s[start:i])
			i += len(sep) - 1
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// mapUnquoted 只对引号外的片段应用fn
func mapUnquoted(tok string, fn func(string) string) string {
	if !strings.Contains(tok, "'") {
		return fn(tok)
	}
	var b strings.Builder
	inQuote, start := false, 0
	for i := 0; i < len(tok); i++ {
		if tok[i] != '\'' {
			continue
		}
		if inQuote {
			b.WriteString(tok[start : i+1])
			start = i + 1
		} else {
			b.WriteString(fn(tok[start:i]))
			start = i
		}
		inQuote = !inQuote
	}
	if inQuote {
		b.WriteString(tok[start:])
	} else {
		b.WriteString(fn(tok[start:]))
	}
	return b.String()
}

// literalBody 若s整体是一个字符串字面量，返回其中内容
func literalBody(s string) (string, bool) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", false
	}
	for i := 1; i < len(s)-1; i++ {
		if s[i] != '\'' {
			continue
		}
		if s[i+1] != '\'' {
			return "", false
		}
		i++
	}
	return s[1 : len(s)-1], true
}
