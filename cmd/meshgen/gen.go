package main

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/tools/imports"
)

// enumMarker 标记消息集合的注释前缀
const enumMarker = "//meshgen:enum"

var (
	// ErrNoEnum 源文件中没有 //meshgen:enum 标记
	ErrNoEnum = errors.New("no //meshgen:enum type group found")
	// ErrNoActorImport 源文件没有导入 actor 包
	ErrNoActorImport = errors.New("source does not import the actor package")
)

// Options 生成选项
type Options struct {
	// MeshClient 是否生成 <Name>MeshClient
	MeshClient bool
}

// enum 一个消息集合
type enum struct {
	Name     string
	Variants []variant
}

// variant 消息集合中的一个成员
type variant struct {
	Name   string
	Fields []field
	// Reply 调用式消息的回复类型，单向消息为空
	Reply string
}

// field 消息字段；回复端口字段 IsReply 为 true
type field struct {
	Name    string
	Type    string
	Param   string
	IsReply bool
}

func (v variant) callStyle() bool { return v.Reply != "" }

// payload 返回除回复端口外的字段
func (v variant) payload() []field {
	out := make([]field, 0, len(v.Fields))
	for _, f := range v.Fields {
		if !f.IsReply {
			out = append(out, f)
		}
	}
	return out
}

// source 解析后的输入文件
type source struct {
	File      string
	Package   string
	ActorName string
	ActorPath string
	Imports   []*ast.ImportSpec
	Enums     []enum
}

func (s *source) imports(path string) bool {
	for _, imp := range s.Imports {
		if p, _ := strconv.Unquote(imp.Path.Value); p == path {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════
// 解析
// ═══════════════════════════════════════════════════════════════════════════

func parseSource(filename string, src []byte) (*source, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	s := &source{
		File:    filepath.Base(filename),
		Package: f.Name.Name,
		Imports: f.Imports,
	}
	for _, imp := range f.Imports {
		path, _ := strconv.Unquote(imp.Path.Value)
		if !strings.HasSuffix(path, "/pkg/actor") {
			continue
		}
		s.ActorPath = path
		s.ActorName = "actor"
		if imp.Name != nil {
			s.ActorName = imp.Name.Name
		}
	}

	for _, decl := range f.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE || gd.Doc == nil {
			continue
		}
		name, ok := enumName(gd.Doc)
		if !ok {
			continue
		}
		if s.ActorPath == "" {
			return nil, ErrNoActorImport
		}
		e, err := s.parseEnum(fset, name, gd)
		if err != nil {
			return nil, err
		}
		s.Enums = append(s.Enums, e)
	}
	if len(s.Enums) == 0 {
		return nil, ErrNoEnum
	}
	return s, nil
}

func enumName(doc *ast.CommentGroup) (string, bool) {
	for _, c := range doc.List {
		rest, ok := strings.CutPrefix(c.Text, enumMarker)
		if !ok {
			continue
		}
		name := strings.TrimSpace(rest)
		return name, token.IsIdentifier(name) && token.IsExported(name)
	}
	return "", false
}

func (s *source) parseEnum(fset *token.FileSet, name string, gd *ast.GenDecl) (enum, error) {
	e := enum{Name: name}
	for _, spec := range gd.Specs {
		ts := spec.(*ast.TypeSpec)
		pos := fset.Position(ts.Pos())
		if ts.TypeParams != nil {
			return enum{}, fmt.Errorf("%s: variant %s: type parameters are not supported", pos, ts.Name.Name)
		}
		st, ok := ts.Type.(*ast.StructType)
		if !ok {
			return enum{}, fmt.Errorf("%s: variant %s is not a struct", pos, ts.Name.Name)
		}
		v, err := s.parseVariant(ts.Name.Name, st)
		if err != nil {
			return enum{}, fmt.Errorf("%s: %w", pos, err)
		}
		e.Variants = append(e.Variants, v)
	}
	if len(e.Variants) == 0 {
		return enum{}, fmt.Errorf("enum %s has no variants", name)
	}
	return e, nil
}

func (s *source) parseVariant(name string, st *ast.StructType) (variant, error) {
	v := variant{Name: name}
	used := map[string]bool{}
	for _, fl := range st.Fields.List {
		if len(fl.Names) == 0 {
			return variant{}, fmt.Errorf("variant %s: embedded fields are not supported", name)
		}
		reply, isReply := s.replyType(fl.Type)
		for _, id := range fl.Names {
			if !id.IsExported() {
				return variant{}, fmt.Errorf("variant %s: field %s must be exported", name, id.Name)
			}
			if isReply {
				if v.Reply != "" {
					return variant{}, fmt.Errorf("variant %s: more than one reply port", name)
				}
				v.Reply = reply
			}
			v.Fields = append(v.Fields, field{
				Name:    id.Name,
				Type:    types.ExprString(fl.Type),
				Param:   paramName(id.Name, used),
				IsReply: isReply,
			})
		}
	}
	return v, nil
}

// replyType 识别 *actor.ReplyPort[T]，返回 T
func (s *source) replyType(expr ast.Expr) (string, bool) {
	star, ok := expr.(*ast.StarExpr)
	if !ok {
		return "", false
	}
	idx, ok := star.X.(*ast.IndexExpr)
	if !ok {
		return "", false
	}
	sel, ok := idx.X.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "ReplyPort" {
		return "", false
	}
	pkg, ok := sel.X.(*ast.Ident)
	if !ok || pkg.Name != s.ActorName {
		return "", false
	}
	return types.ExprString(idx.Index), true
}

// reservedParams 生成代码中已占用的标识符
var reservedParams = map[string]bool{
	"ctx": true, "cx": true, "c": true, "h": true, "m": true,
	"msg": true, "reply": true, "v": true, "err": true,
}

// paramName 字段名转参数名：ActorType → actorType，ID → id
func paramName(field string, used map[string]bool) string {
	r := []rune(field)
	n := 0
	for n < len(r) && unicode.IsUpper(r[n]) {
		n++
	}
	// HTTPServer → httpServer
	if n > 1 && n < len(r) {
		n--
	}
	for i := range n {
		r[i] = unicode.ToLower(r[i])
	}
	p := string(r)
	if token.IsKeyword(p) || reservedParams[p] || used[p] {
		p += "Arg"
	}
	used[p] = true
	return p
}

// ═══════════════════════════════════════════════════════════════════════════
// 生成
// ═══════════════════════════════════════════════════════════════════════════

// Generate 从源文件内容生成消息契约代码
func Generate(filename string, src []byte, opts Options) ([]byte, error) {
	s, err := parseSource(filename, src)
	if err != nil {
		return nil, err
	}
	if opts.MeshClient && s.Package == "mesh" {
		return nil, fmt.Errorf("package mesh cannot import itself; use --mesh-client=false")
	}

	g := &generator{src: s, opts: opts, a: s.ActorName}
	g.header()
	for _, e := range s.Enums {
		g.enum(e)
	}
	g.registrations()

	out, err := imports.Process(outputName(filename), g.buf.Bytes(), &imports.Options{
		Comments:  true,
		TabIndent: true,
		TabWidth:  8,
	})
	if err != nil {
		return nil, fmt.Errorf("format generated code: %w\n%s", err, g.buf.String())
	}
	return out, nil
}

// outputName 输出文件名：agent.go → agent_meshgen.go
func outputName(filename string) string {
	return strings.TrimSuffix(filename, ".go") + "_meshgen.go"
}

type generator struct {
	buf  bytes.Buffer
	src  *source
	opts Options
	// a actor 包在源文件中的名称
	a string
}

func (g *generator) p(format string, args ...any) {
	fmt.Fprintf(&g.buf, format, args...)
	g.buf.WriteByte('\n')
}

func (g *generator) banner(title string) {
	line := "// " + strings.Repeat("═", 75)
	g.p("%s", line)
	g.p("// %s", title)
	g.p("%s", line)
	g.p("")
}

func (g *generator) header() {
	g.p("// Code generated by meshgen from %s. DO NOT EDIT.", g.src.File)
	g.p("")
	g.p("package %s", g.src.Package)
	g.p("")
	g.p("import (")
	if !g.src.imports("context") {
		g.p("\t\"context\"")
	}
	for _, imp := range g.src.Imports {
		if imp.Name != nil {
			g.p("\t%s %s", imp.Name.Name, imp.Path.Value)
		} else {
			g.p("\t%s", imp.Path.Value)
		}
	}
	if meshPath := strings.TrimSuffix(g.src.ActorPath, "/actor") + "/mesh"; g.opts.MeshClient && !g.src.imports(meshPath) {
		g.p("\t%q", meshPath)
	}
	g.p(")")
	g.p("")
}

func (g *generator) enum(e enum) {
	g.banner(e.Name + " 消息")
	g.p("// %sMessage %s 消息集合的成员", e.Name, e.Name)
	g.p("type %sMessage interface {", e.Name)
	g.p("\t%s.Message", g.a)
	g.p("\tis%sMessage()", e.Name)
	g.p("}")
	g.p("")
	for _, v := range e.Variants {
		g.p("// Kind 实现 %s.Message 接口", g.a)
		g.p("func (*%s) Kind() string { return %q }", v.Name, g.src.Package+"."+e.Name+"."+v.Name)
		g.p("")
		g.p("func (*%s) is%sMessage() {}", v.Name, e.Name)
		g.p("")
	}

	g.banner("Handler")
	g.handler(e)
	g.dispatch(e)

	g.banner("Client")
	g.client(e)
	if g.opts.MeshClient {
		g.meshClient(e)
	}
}

func (g *generator) handler(e enum) {
	g.p("// %sHandler 每个 %s 消息对应一个方法", e.Name, e.Name)
	g.p("type %sHandler interface {", e.Name)
	for _, v := range e.Variants {
		params := g.handlerParams(v)
		if v.callStyle() {
			g.p("\t%s(%s) (%s, error)", v.Name, params, v.Reply)
		} else {
			g.p("\t%s(%s) error", v.Name, params)
		}
	}
	g.p("}")
	g.p("")
}

func (g *generator) handlerParams(v variant) string {
	parts := []string{"cx *" + g.a + ".Context"}
	for _, f := range v.payload() {
		parts = append(parts, f.Param+" "+f.Type)
	}
	return strings.Join(parts, ", ")
}

func (g *generator) dispatch(e enum) {
	g.p("// Handle%s 把 msg 分派到 h", e.Name)
	g.p("//")
	g.p("// msg 不属于 %s 时返回 handled=false。调用式消息的回复端口恰好被", e.Name)
	g.p("// 完成一次，处理错误通过端口传给调用方。")
	g.p("func Handle%s(cx *%s.Context, h %sHandler, msg %s.Message) (bool, error) {", e.Name, g.a, e.Name, g.a)
	g.p("\tswitch m := msg.(type) {")
	for _, v := range e.Variants {
		args := []string{"cx"}
		for _, f := range v.payload() {
			args = append(args, "m."+f.Name)
		}
		call := fmt.Sprintf("h.%s(%s)", v.Name, strings.Join(args, ", "))
		g.p("\tcase *%s:", v.Name)
		if v.callStyle() {
			reply := ""
			for _, f := range v.Fields {
				if f.IsReply {
					reply = f.Name
				}
			}
			g.p("\t\tv, err := %s.InvokeValue(func() (%s, error) {", g.a, v.Reply)
			g.p("\t\t\treturn %s", call)
			g.p("\t\t})")
			g.p("\t\treturn true, %s.CompleteReply(cx, m.%s, v, err)", g.a, reply)
		} else {
			g.p("\t\treturn true, %s.Invoke(func() error {", g.a)
			g.p("\t\t\treturn %s", call)
			g.p("\t\t})")
		}
	}
	g.p("\t}")
	g.p("\treturn false, nil")
	g.p("}")
	g.p("")
}

// clientParams 客户端方法参数：ctx, cx, 负载字段
func (g *generator) clientParams(v variant) string {
	capability := "CanSend"
	if v.callStyle() {
		capability = "CanOpenPort"
	}
	parts := []string{"ctx context.Context", "cx " + g.a + "." + capability}
	for _, f := range v.payload() {
		parts = append(parts, f.Param+" "+f.Type)
	}
	return strings.Join(parts, ", ")
}

// literal 构造消息的复合字面量
func (g *generator) literal(v variant) string {
	parts := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		if f.IsReply {
			parts = append(parts, f.Name+": reply")
		} else {
			parts = append(parts, f.Name+": "+f.Param)
		}
	}
	return fmt.Sprintf("&%s{%s}", v.Name, strings.Join(parts, ", "))
}

func (g *generator) client(e enum) {
	g.p("// %sClient 单个 %s 的客户端", e.Name, e.Name)
	g.p("type %sClient struct {", e.Name)
	g.p("\tID %s.ActorID", g.a)
	g.p("}")
	g.p("")
	for _, v := range e.Variants {
		params := g.clientParams(v)
		if v.callStyle() {
			g.p("// %s 发送 %s 并等待回复", v.Name, v.Name)
			g.p("func (c %sClient) %s(%s) (%s, error) {", e.Name, v.Name, params, v.Reply)
			g.p("\treturn %s.Call(ctx, cx, c.ID, func(reply *%s.ReplyPort[%s]) %s.Message {", g.a, g.a, v.Reply, g.a)
			g.p("\t\treturn %s", g.literal(v))
			g.p("\t})")
		} else {
			g.p("// %s 发送 %s，目标邮箱接收后返回", v.Name, v.Name)
			g.p("func (c %sClient) %s(%s) error {", e.Name, v.Name, params)
			g.p("\treturn %s.Tell(ctx, cx, c.ID, %s)", g.a, g.literal(v))
		}
		g.p("}")
		g.p("")
	}
}

func (g *generator) meshClient(e enum) {
	g.p("// %sMeshClient %s ActorMesh 的客户端", e.Name, e.Name)
	g.p("type %sMeshClient struct {", e.Name)
	g.p("\tMesh *mesh.ActorMesh")
	g.p("}")
	g.p("")
	for _, v := range e.Variants {
		params := g.clientParams(v)
		if v.callStyle() {
			g.p("// %s 向每个目标发送 %s，按坐标收集回复", v.Name, v.Name)
			g.p("func (c %sMeshClient) %s(%s) (*mesh.ValueMesh[%s], error) {", e.Name, v.Name, params, v.Reply)
			g.p("\treturn mesh.Call(ctx, cx, c.Mesh, func(reply *%s.ReplyPort[%s]) %s.Message {", g.a, v.Reply, g.a)
			g.p("\t\treturn %s", g.literal(v))
			g.p("\t})")
			g.p("}")
			g.p("")
			g.p("// %sOne 向唯一目标发送 %s 并等待回复", v.Name, v.Name)
			g.p("func (c %sMeshClient) %sOne(%s) (%s, error) {", e.Name, v.Name, params, v.Reply)
			g.p("\treturn mesh.CallOne(ctx, cx, c.Mesh, func(reply *%s.ReplyPort[%s]) %s.Message {", g.a, v.Reply, g.a)
			g.p("\t\treturn %s", g.literal(v))
			g.p("\t})")
			g.p("}")
			g.p("")
		} else {
			g.p("// %s 向每个目标发送 %s", v.Name, v.Name)
			g.p("func (c %sMeshClient) %s(%s) error {", e.Name, v.Name, params)
			g.p("\treturn mesh.Cast(ctx, cx, c.Mesh, func() %s.Message {", g.a)
			g.p("\t\treturn %s", g.literal(v))
			g.p("\t})")
			g.p("}")
			g.p("")
			g.p("// %sOne 向唯一目标发送 %s", v.Name, v.Name)
			g.p("func (c %sMeshClient) %sOne(%s) error {", e.Name, v.Name, params)
			g.p("\treturn mesh.CastOne(ctx, cx, c.Mesh, func() %s.Message {", g.a)
			g.p("\t\treturn %s", g.literal(v))
			g.p("\t})")
			g.p("}")
			g.p("")
		}
	}
}

func (g *generator) registrations() {
	g.p("func init() {")
	for _, e := range g.src.Enums {
		for _, v := range e.Variants {
			g.p("\t%s.RegisterMessage(func() %s.Message { return new(%s) })", g.a, g.a, v.Name)
		}
	}
	g.p("}")
}
