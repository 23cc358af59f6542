package transpile

import (
	"fmt"
	"regexp"
	"strings"

	"zh.xyz/dv/ora2pg/models"
)

var (
	pseudoRecordRe = regexp.MustCompile(`(?i):(new|old)\.`)
	whenRecordRe   = regexp.MustCompile(`(?i)\b(new|old)\.`)
	varchar2Re     = regexp.MustCompile(`(?i)\bvarchar2\b`)
	numberRe       = regexp.MustCompile(`(?i)\bnumber\b`)
)

// Rewrite 依次执行通用改写规则，每一步都生成新的词元流
func Rewrite(kind models.ObjectKind, tokens []string) []string {
	if kind.Routine() {
		tokens = normalizeParams(tokens)
	}
	tokens = rewriteCursors(tokens)
	tokens = rewritePseudoRecords(tokens)
	tokens = mapTypes(tokens)
	tokens = rewriteExceptions(tokens)
	tokens = substituteSystemCalls(tokens)
	tokens = dropDual(tokens)
	return unwrapQueryLoops(tokens)
}

// normalizeParams 处理参数列表中的IN/OUT方向标记：
// IN与IN OUT不保留标记，OUT移到参数名之前
func normalizeParams(in []string) []string {
	if len(in) < 3 || !strings.HasPrefix(in[2], "(") {
		return in
	}
	out := make([]string, 0, len(in))
	out = append(out, in[:2]...)

	depth := 0
	i := 2
	for ; i < len(in); i++ {
		tok := in[i]
		switch {
		case isWord(tok, "IN"):
			if i+1 < len(in) && isWord(in[i+1], "OUT") {
				i++
			}
			if i+1 < len(in) && isWord(in[i+1], "NOCOPY") {
				i++
			}
			continue
		case isWord(tok, "OUT"):
			if i+1 < len(in) && isWord(in[i+1], "NOCOPY") {
				i++
			}
			if n := len(out); n > 2 {
				name, prefix := out[n-1], ""
				if strings.HasPrefix(name, "(") {
					name, prefix = name[1:], "("
				}
				out = append(out[:n-1], prefix+"OUT", name)
			}
			continue
		}
		open, closed := parens(tok)
		depth += open - closed
		out = append(out, tok)
		if depth <= 0 {
			i++
			break
		}
	}
	return append(out, in[i:]...)
}

// rewriteCursors CURSOR name IS -> name CURSOR FOR
func rewriteCursors(in []string) []string {
	out := make([]string, 0, len(in))
	for i := 0; i < len(in); i++ {
		tok := in[i]
		if !isWord(tok, "CURSOR") || i+1 >= len(in) || (i > 0 && isWord(in[i-1], "REF")) {
			out = append(out, tok)
			continue
		}

		name, params := in[i+1], ""
		if p := strings.Index(name, "("); p > 0 {
			name, params = name[:p], name[p:]
		}
		out = append(out, name, "CURSOR")
		if params != "" {
			out = append(out, params)
		}

		j := i + 2
		for ; j < len(in); j++ {
			if isWord(in[j], "IS") {
				out = append(out, "FOR")
				break
			}
			out = append(out, in[j])
			if strings.HasSuffix(in[j], ";") {
				break
			}
		}
		i = j
	}
	return out
}

// rewritePseudoRecords :new.col/:old.col -> NEW.col/OLD.col
func rewritePseudoRecords(in []string) []string {
	out := make([]string, len(in))
	for i, tok := range in {
		out[i] = mapUnquoted(tok, func(s string) string {
			return pseudoRecordRe.ReplaceAllStringFunc(s, func(m string) string {
				return strings.ToUpper(m[1:])
			})
		})
	}
	return out
}

// mapTypes NUMBER -> numeric, VARCHAR2 -> varchar
func mapTypes(in []string) []string {
	out := make([]string, len(in))
	for i, tok := range in {
		out[i] = mapUnquoted(tok, func(s string) string {
			s = varchar2Re.ReplaceAllString(s, "varchar")
			return numberRe.ReplaceAllString(s, "numeric")
		})
	}
	return out
}

// rewriteExceptions 删除异常变量声明与PRAGMA，改写RAISE
func rewriteExceptions(in []string) []string {
	out := make([]string, 0, len(in))
	for i := 0; i < len(in); i++ {
		tok := in[i]
		switch {
		case isWord(tok, "PRAGMA"):
			for i < len(in) && !strings.HasSuffix(in[i], ";") {
				i++
			}
		case isWord(tok, "EXCEPTION;") && len(out) > 0:
			out = out[:len(out)-1]
		case isWord(tok, "RAISE") && i+1 < len(in):
			next := in[i+1]
			if strings.Contains(next, "(") {
				end, text := collectCall(in, i+1)
				out = append(out, raiseFromCall(text))
				i = end
				continue
			}
			stmt := fmt.Sprintf("RAISE EXCEPTION 'EXCEPTION_%s'", strings.TrimSuffix(next, ";"))
			if strings.HasSuffix(next, ";") {
				stmt += ";"
			}
			out = append(out, stmt)
			i++
		case hasPrefixFold(tok, "RAISE_APPLICATION_ERROR"):
			end, text := collectCall(in, i)
			out = append(out, raiseFromCall(text))
			i = end
		default:
			out = append(out, tok)
		}
	}
	return out
}

// substituteSystemCalls 替换DBMS_OUTPUT与DBMS_LOCK.SLEEP调用，重复扫描直到不再变化
func substituteSystemCalls(in []string) []string {
	out := in
	for pass := 0; pass <= len(in); pass++ {
		next, changed := systemCallPass(out)
		out = next
		if !changed {
			break
		}
	}
	return out
}

func systemCallPass(in []string) ([]string, bool) {
	out := make([]string, 0, len(in))
	changed := false
	for i := 0; i < len(in); i++ {
		var rewrite func(string) (string, bool)
		switch tok := in[i]; {
		case hasPrefixFold(tok, "DBMS_OUTPUT."):
			rewrite = noticeFromCall
		case hasPrefixFold(tok, "DBMS_LOCK.SLEEP"):
			rewrite = sleepFromCall
		}
		if rewrite == nil {
			out = append(out, in[i])
			continue
		}

		end, text := collectCall(in, i)
		stmt, ok := rewrite(text)
		if !ok {
			out = append(out, in[i])
			continue
		}
		if stmt != "" {
			out = append(out, stmt)
		}
		i = end
		changed = true
	}
	return out, changed
}

// collectCall 从i开始收集一个调用语句，返回结束位置和拼接后的文本
func collectCall(in []string, i int) (int, string) {
	depth, opened := 0, false
	j := i
	for ; j < len(in); j++ {
		open, closed := parens(in[j])
		if open > 0 {
			opened = true
		}
		depth += open - closed
		if opened && depth <= 0 {
			break
		}
		if !opened && strings.HasSuffix(in[j], ";") {
			break
		}
	}
	if j >= len(in) {
		j = len(in) - 1
	}
	if j+1 < len(in) && in[j+1] == ";" {
		j++
	}
	return j, strings.Join(in[i:j+1], " ")
}

// parseCall 拆分调用文本为被调用名、参数文本
func parseCall(text string) (callee, args string, ok bool) {
	open := indexUnquoted(text, "(")
	if open < 0 {
		return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), ";")), "", true
	}
	closed := matchParen(text, open)
	if closed < 0 {
		return "", "", false
	}
	return strings.TrimSpace(text[:open]), strings.TrimSpace(text[open+1 : closed]), true
}

// formatConcat 将 'a' || x || 'b' 拆成格式串与表达式，每个表达式对应一个%
func formatConcat(args string) (string, []string) {
	var (
		format strings.Builder
		exprs  []string
	)
	for _, part := range splitTop(args, "||") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if body, ok := literalBody(part); ok {
			format.WriteString(strings.ReplaceAll(body, "%", "%%"))
			continue
		}
		format.WriteString("%")
		exprs = append(exprs, part)
	}
	return format.String(), exprs
}

func noticeFromCall(text string) (string, bool) {
	callee, args, ok := parseCall(text)
	if !ok {
		return "", false
	}
	switch proc := strings.ToUpper(callee[strings.LastIndex(callee, ".")+1:]); proc {
	case "PUT_LINE", "PUT", "NEW_LINE":
	case "ENABLE", "DISABLE":
		return "", true
	default:
		return "", false
	}
	format, exprs := formatConcat(args)
	var b strings.Builder
	fmt.Fprintf(&b, "RAISE NOTICE '%s'", format)
	for _, e := range exprs {
		b.WriteString(",")
		b.WriteString(e)
	}
	b.WriteString(";")
	return b.String(), true
}

func sleepFromCall(text string) (string, bool) {
	_, args, ok := parseCall(text)
	if !ok || args == "" {
		return "", false
	}
	return fmt.Sprintf("PERFORM pg_sleep(%s);", args), true
}

// raiseFromCall RAISE pkg.err('msg') / RAISE_APPLICATION_ERROR(code, 'msg') -> RAISE EXCEPTION 'msg';
func raiseFromCall(text string) string {
	callee, args, ok := parseCall(text)
	if !ok {
		return fmt.Sprintf("RAISE EXCEPTION '%s';", strings.ReplaceAll(text, "'", "''"))
	}
	parts := splitTop(args, ",")
	format, exprs := formatConcat(parts[len(parts)-1])
	if format == "" && len(exprs) == 0 {
		format = callee
	}
	var b strings.Builder
	fmt.Fprintf(&b, "RAISE EXCEPTION '%s'", format)
	for _, e := range exprs {
		b.WriteString(",")
		b.WriteString(e)
	}
	b.WriteString(";")
	return b.String()
}

// dropDual 删除 FROM DUAL
func dropDual(in []string) []string {
	out := make([]string, 0, len(in))
	for i := 0; i < len(in); i++ {
		if isWord(in[i], "FROM") && i+1 < len(in) && isWord(in[i+1], "DUAL", "DUAL;") {
			if strings.HasSuffix(in[i+1], ";") {
				if n := len(out); n > 0 {
					out[n-1] += ";"
				} else {
					out = append(out, ";")
				}
			}
			i++
			continue
		}
		out = append(out, in[i])
	}
	return out
}

// unwrapQueryLoops FOR r IN (SELECT ...) LOOP -> FOR r IN SELECT ... LOOP
func unwrapQueryLoops(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	for i := 0; i+3 < len(out); i++ {
		if !isWord(out[i], "FOR") || !isWord(out[i+2], "IN") || !strings.HasPrefix(out[i+3], "(") {
			continue
		}
		inner := strings.TrimSpace(out[i+3][1:])
		if inner == "" && i+4 < len(out) {
			inner = out[i+4]
		}
		if !hasPrefixFold(inner, "SELECT") {
			continue
		}

		// 去掉左括号，并在后续词元中找到与之匹配的右括号
		out[i+3] = out[i+3][1:]
		depth := 1
		for j := i + 3; j < len(out) && depth > 0; j++ {
			tok, inQuote := out[j], false
			for k := 0; k < len(tok); k++ {
				switch c := tok[k]; {
				case c == '\'':
					inQuote = !inQuote
				case inQuote:
				case c == '(':
					depth++
				case c == ')':
					depth--
					if depth == 0 {
						out[j] = tok[:k] + tok[k+1:]
						k = len(tok)
					}
				}
			}
		}
	}

	result := out[:0]
	for _, tok := range out {
		if tok != "" {
			result = append(result, tok)
		}
	}
	return result
}

// queryLoopVars 查询型FOR循环的循环变量，需要声明为record
func queryLoopVars(tokens []string) []string {
	var vars []string
	seen := make(map[string]bool)
	for i := 0; i+3 < len(tokens); i++ {
		if isWord(tokens[i], "FOR") && isWord(tokens[i+2], "IN") && hasPrefixFold(tokens[i+3], "SELECT") {
			v := tokens[i+1]
			if !seen[strings.ToLower(v)] {
				seen[strings.ToLower(v)] = true
				vars = append(vars, v)
			}
		}
	}
	return vars
}
