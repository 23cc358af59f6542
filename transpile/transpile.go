package transpile

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"zh.xyz/dv/ora2pg/models"
)

const catchAll = "EXCEPTION WHEN OTHERS THEN\n" +
	"raise notice 'Transaction has failed and rolledback!';\n" +
	"raise notice '% %', SQLERRM, SQLSTATE;\n" +
	"END;\n$$;"

var (
	unsupportedRe = regexp.MustCompile(`(?i)\b(DBMS|UTL)_[A-Z0-9_$#]*`)
	errFactory    = errors.New("factory function, not migrated")
)

// SourceFetcher 读取被调用对象的源码（触发器CALL改写时使用）
type SourceFetcher interface {
	SourceLines(ctx context.Context, key models.ObjectKey) ([]string, error)
}

// Translation 单个对象的转换结果
type Translation struct {
	Key        models.ObjectKey
	Name       string
	Table      string
	Drop       []string
	Statements []string
	Manual     *models.ManualArtifact
}

// Transpiler 将Oracle PL/SQL对象改写为PostgreSQL PL/pgSQL
type Transpiler struct {
	targetSchema string
	ownerRe      *regexp.Regexp
	fetcher      SourceFetcher
}

// New 创建转换器，sourceSchema用于去掉视图中的owner限定
func New(sourceSchema, targetSchema string, fetcher SourceFetcher) *Transpiler {
	t := &Transpiler{targetSchema: strings.ToLower(targetSchema), fetcher: fetcher}
	if sourceSchema != "" {
		t.ownerRe = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(sourceSchema) + `\.`)
	}
	return t
}

func (t *Transpiler) qualify(name string) string {
	if t.targetSchema == "" {
		return name
	}
	return t.targetSchema + "." + name
}

// Transpile 转换一个对象；无法转换时返回带Manual的结果，error只表示读取源码失败
func (t *Transpiler) Transpile(ctx context.Context, obj *models.SourceObject) (*Translation, error) {
	tr := &Translation{Key: obj.Key, Name: strings.ToLower(NormalizeName(obj.Key.Name))}

	var err error
	switch kind := obj.Key.Kind; kind {
	case models.KindFunction, models.KindProcedure:
		_, tokens := Tokenize(kind, obj.Lines)
		err = t.routine(tr, kind, Rewrite(kind, tokens))
	case models.KindTrigger:
		_, tokens := Tokenize(kind, obj.Lines)
		err = t.trigger(ctx, tr, Rewrite(kind, tokens))
	case models.KindView:
		_, tokens := Tokenize(kind, obj.Lines)
		t.view(tr, mapTypes(tokens))
	default:
		err = &UnsupportedConstructError{Object: obj.Key.Name, Construct: string(kind)}
	}

	if err == nil {
		if m := unsupportedRe.FindString(strings.Join(tr.Statements, "\n")); m != "" {
			err = &UnsupportedConstructError{Object: obj.Key.Name, Construct: m}
		}
	}

	var unsupported *UnsupportedConstructError
	var ambiguous *AmbiguousTransformError
	switch {
	case err == nil:
		return tr, nil
	case errors.As(err, &unsupported), errors.As(err, &ambiguous):
		text := strings.Join(tr.Statements, "\n\n")
		if text == "" {
			text = strings.Join(obj.Lines, "\n")
		}
		tr.Manual = &models.ManualArtifact{Name: obj.Key.Name, Kind: obj.Key.Kind, Reason: err, Text: text}
		tr.Statements = nil
		tr.Drop = nil
		return tr, nil
	default:
		return nil, err
	}
}

// routine 组装函数/存储过程
func (t *Transpiler) routine(tr *Translation, kind models.ObjectKind, tokens []string) error {
	var d ddl
	d.raw(fmt.Sprintf("CREATE OR REPLACE %s %s", kind, t.qualify(tr.Name)))
	if len(tokens) < 3 || !strings.HasPrefix(tokens[2], "(") {
		d.raw("()")
	}

	// 签名：RETURN -> RETURNS，去掉Oracle专有子句，直到IS/AS
	i, found := 2, false
	for ; i < len(tokens); i++ {
		tok := tokens[i]
		if isWord(tok, "IS", "AS") {
			found = true
			i++
			break
		}
		if isWord(tok, "AUTHID", "DETERMINISTIC", "PARALLEL_ENABLE", "RESULT_CACHE", "PIPELINED") {
			i = skipClause(tokens, i)
			continue
		}
		if isWord(tok, "RETURN") {
			tok = "RETURNS"
		}
		d.word(tok)
	}
	if !found {
		return &AmbiguousTransformError{Object: tr.Name, Reason: "IS/AS not found"}
	}
	d.raw("\nLANGUAGE PLPGSQL AS\n$$\nDECLARE\n")
	for _, v := range queryLoopVars(tokens[i:]) {
		d.raw(v + " record;\n")
	}

	decl, body, ok := splitBlock(tokens[i:])
	if !ok {
		return &AmbiguousTransformError{Object: tr.Name, Reason: "BEGIN not found"}
	}
	for _, tok := range decl {
		d.word(tok)
	}
	d.line()
	d.raw("BEGIN\n")
	if err := writeBody(&d, body, false); err != nil {
		return &AmbiguousTransformError{Object: tr.Name, Reason: err.Error()}
	}
	d.line()
	d.raw(catchAll)

	tr.Drop = []string{fmt.Sprintf("DROP %s IF EXISTS %s CASCADE", kind, t.qualify(tr.Name))}
	tr.Statements = []string{d.String()}
	return nil
}

// skipClause 跳过签名子句，返回子句最后一个词元的位置：
// AUTHID带一个参数，PARALLEL_ENABLE与RESULT_CACHE可带RELIES_ON和括号参数
func skipClause(tokens []string, i int) int {
	if isWord(tokens[i], "AUTHID") {
		return min(i+1, len(tokens)-1)
	}
	if i+1 < len(tokens) && isWord(tokens[i+1], "RELIES_ON") {
		i++
	}
	if i+1 >= len(tokens) || !strings.HasPrefix(tokens[i+1], "(") {
		return i
	}
	depth := 0
	for i+1 < len(tokens) {
		i++
		open, closed := parens(tokens[i])
		depth += open - closed
		if depth <= 0 {
			break
		}
	}
	return i
}

// trigger 组装触发器：PostgreSQL触发器只能调用函数，语句块被包装为fn_<触发器名>
func (t *Transpiler) trigger(ctx context.Context, tr *Translation, tokens []string) error {
	var (
		d      ddl
		events []string
	)
	d.raw("CREATE TRIGGER " + tr.Name)

	for i := 2; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case isWord(tok, "ON") && tr.Table == "" && i+1 < len(tokens):
			tr.Table = strings.ToLower(NormalizeName(tokens[i+1]))
			d.word("ON")
			d.word(t.qualify(tr.Table))
			d.raw("\n")
			i++
		case isWord(tok, "INSERT", "UPDATE", "DELETE") && tr.Table == "":
			events = append(events, strings.ToUpper(tok))
			d.word(tok)
		case isWord(tok, "REFERENCING"):
			for i+1 < len(tokens) && !isWord(tokens[i+1], "FOR", "WHEN", "DECLARE", "BEGIN", "CALL") {
				i++
			}
		case isWord(tok, "WHEN"):
			d.word(tok)
			depth := 0
			for i+1 < len(tokens) {
				i++
				cond := mapUnquoted(tokens[i], func(s string) string {
					return whenRecordRe.ReplaceAllStringFunc(s, strings.ToUpper)
				})
				d.word(cond)
				open, closed := parens(tokens[i])
				depth += open - closed
				if depth <= 0 {
					break
				}
			}
			d.raw("\n")
		case isWord(tok, "DECLARE", "BEGIN"):
			rest := tokens[i:]
			if isWord(tok, "DECLARE") {
				rest = rest[1:]
			}
			decl, body, ok := splitBlock(rest)
			if !ok {
				return &AmbiguousTransformError{Object: tr.Name, Reason: "BEGIN not found"}
			}
			fn := "fn_" + tr.Name
			stmt, err := t.triggerFunction(fn, decl, body, nil, returnRecord(events))
			if err != nil {
				return &AmbiguousTransformError{Object: tr.Name, Reason: err.Error()}
			}
			tr.Statements = append(tr.Statements, stmt)
			d.line()
			d.raw(fmt.Sprintf("EXECUTE FUNCTION %s();", t.qualify(fn)))
			return t.finishTrigger(tr, &d)
		case isWord(tok, "CALL") && i+1 < len(tokens):
			call := strings.TrimSuffix(strings.TrimSpace(strings.Join(tokens[i+1:], " ")), ";")
			proc, args := call, "()"
			if p := strings.Index(call, "("); p > 0 {
				proc, args = call[:p], call[p:]
			}
			fn, stmt, err := t.adaptToTrigger(ctx, NormalizeName(strings.TrimSpace(proc)), returnRecord(events))
			if err != nil {
				return err
			}
			tr.Statements = append(tr.Statements, stmt)
			d.line()
			d.raw(fmt.Sprintf("EXECUTE FUNCTION %s%s;", t.qualify(fn), args))
			return t.finishTrigger(tr, &d)
		default:
			d.word(tok)
		}
	}
	return &AmbiguousTransformError{Object: tr.Name, Reason: "trigger body not found"}
}

func (t *Transpiler) finishTrigger(tr *Translation, d *ddl) error {
	if tr.Table == "" {
		return &AmbiguousTransformError{Object: tr.Name, Reason: "trigger table not found"}
	}
	tr.Statements = append(tr.Statements, d.String())
	tr.Drop = []string{fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", tr.Name, t.qualify(tr.Table))}
	return nil
}

// adaptToTrigger 将被触发器调用的存储过程改写为触发器函数，参数通过TG_ARGV按位置绑定
func (t *Transpiler) adaptToTrigger(ctx context.Context, proc, ret string) (string, string, error) {
	if t.fetcher == nil {
		return "", "", &AmbiguousTransformError{Object: proc, Reason: "no source fetcher for called procedure"}
	}
	lines, err := t.fetcher.SourceLines(ctx, models.ObjectKey{Kind: models.KindProcedure, Name: strings.ToUpper(proc)})
	if err != nil {
		return "", "", err
	}
	if len(lines) == 0 {
		return "", "", &AmbiguousTransformError{Object: proc, Reason: "called procedure source not found"}
	}

	_, tokens := Tokenize(models.KindProcedure, lines)
	tokens = Rewrite(models.KindProcedure, tokens)

	// 参数列表
	i := 2
	var header []string
	for ; i < len(tokens) && !isWord(tokens[i], "IS", "AS"); i++ {
		header = append(header, tokens[i])
	}
	if i >= len(tokens) {
		return "", "", &AmbiguousTransformError{Object: proc, Reason: "IS/AS not found"}
	}

	var bindings []string
	if list := strings.TrimSpace(strings.Join(header, " ")); strings.HasPrefix(list, "(") {
		if end := matchParen(list, 0); end > 0 {
			for k, param := range splitTop(list[1:end], ",") {
				param = strings.TrimSpace(param)
				if p := indexUnquoted(strings.ToUpper(param), " DEFAULT "); p > 0 {
					param = param[:p]
				}
				if p := indexUnquoted(param, ":="); p > 0 {
					param = strings.TrimSpace(param[:p])
				}
				if param != "" {
					bindings = append(bindings, fmt.Sprintf("%s := TG_ARGV[%d];", param, k))
				}
			}
		}
	}

	decl, body, ok := splitBlock(tokens[i+1:])
	if !ok {
		return "", "", &AmbiguousTransformError{Object: proc, Reason: "BEGIN not found"}
	}
	fn := "fn_" + strings.ToLower(proc)
	stmt, err := t.triggerFunction(fn, decl, body, bindings, ret)
	if err != nil {
		return "", "", &AmbiguousTransformError{Object: proc, Reason: err.Error()}
	}
	return fn, stmt, nil
}

func (t *Transpiler) triggerFunction(fn string, decl, body, bindings []string, ret string) (string, error) {
	var d ddl
	d.raw(fmt.Sprintf("CREATE OR REPLACE FUNCTION %s() RETURNS TRIGGER LANGUAGE PLPGSQL AS\n$$\n", t.qualify(fn)))
	if len(decl) > 0 || len(bindings) > 0 {
		d.raw("DECLARE\n")
		for _, b := range bindings {
			d.raw(b + "\n")
		}
		for _, tok := range decl {
			d.word(tok)
		}
		d.line()
	}
	d.raw("BEGIN\n")
	if err := writeBody(&d, body, true); err != nil {
		return "", err
	}
	d.line()
	d.raw(fmt.Sprintf("RETURN %s;\nEND;\n$$;", ret))
	return d.String(), nil
}

// view 组装视图：去掉引号与源owner限定
func (t *Transpiler) view(tr *Translation, tokens []string) {
	var d ddl
	d.raw(fmt.Sprintf("CREATE OR REPLACE VIEW %s AS", t.qualify(tr.Name)))
	for _, tok := range tokens {
		d.word(mapUnquoted(tok, func(s string) string {
			s = strings.ReplaceAll(s, `"`, "")
			if t.ownerRe != nil {
				s = t.ownerRe.ReplaceAllString(s, "")
			}
			return s
		}))
	}
	tr.Drop = []string{fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE", t.qualify(tr.Name))}
	tr.Statements = []string{strings.TrimSuffix(strings.TrimSpace(d.String()), ";") + ";"}
}

// returnRecord 仅DELETE触发时返回OLD，其余返回NEW
func returnRecord(events []string) string {
	if len(events) == 0 {
		return "NEW"
	}
	for _, e := range events {
		if e != "DELETE" {
			return "NEW"
		}
	}
	return "OLD"
}

// splitBlock 按第一个BEGIN切分声明部分和语句体
func splitBlock(tokens []string) (decl, body []string, ok bool) {
	for i, tok := range tokens {
		if isWord(tok, "BEGIN") {
			return tokens[:i], tokens[i+1:], true
		}
	}
	return nil, nil, false
}

// writeBody 写出语句体直到外层END或EXCEPTION；nested为false时遇到嵌套BEGIN返回错误
func writeBody(d *ddl, tokens []string, nested bool) error {
	depth, caseDepth := 0, 0
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		next := ""
		if i+1 < len(tokens) {
			next = tokens[i+1]
		}
		switch {
		case isWord(tok, "BEGIN"):
			if !nested {
				return errFactory
			}
			depth++
			d.word(tok)
			d.raw("\n")
		case isWord(tok, "CASE"):
			caseDepth++
			d.word(tok)
		case isWord(tok, "EXECUTE") && isWord(next, "IMMEDIATE"):
			d.word("EXECUTE")
			i++
		case isWord(tok, "EXCEPTION") && depth == 0:
			return nil
		case isWord(tok, "END", "END;"):
			switch {
			case isWord(tok, "END") && isWord(next, "LOOP", "LOOP;", "IF", "IF;"):
				d.word(tok)
				d.word(next)
				i++
			case caseDepth > 0:
				caseDepth--
				d.word(tok)
				if isWord(tok, "END") && isWord(next, "CASE", "CASE;") {
					d.word(next)
					i++
				}
			case depth > 0:
				depth--
				d.word(tok)
			default:
				return nil
			}
		default:
			d.word(tok)
		}
	}
	return nil
}

// ddl 拼接DDL文本：词元之间补空格，分号和LOOP后换行
type ddl struct {
	b    strings.Builder
	last byte
}

func (d *ddl) raw(s string) {
	if s == "" {
		return
	}
	d.b.WriteString(s)
	d.last = s[len(s)-1]
}

func (d *ddl) word(tok string) {
	if tok == "" {
		return
	}
	if d.last != 0 && d.last != '\n' && d.last != ' ' {
		d.raw(" ")
	}
	d.raw(tok)
	if strings.HasSuffix(tok, ";") || isWord(tok, "LOOP") {
		d.raw("\n")
	}
}

func (d *ddl) line() {
	if d.last != 0 && d.last != '\n' {
		d.raw("\n")
	}
}

func (d *ddl) String() string {
	return d.b.String()
}
