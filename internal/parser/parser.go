package parser

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"os"
	"strings"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Parser handles AST-based parsing of Go source files. A Parser is safe for
// concurrent use.
type Parser struct {
	fset *token.FileSet
}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{
		fset: token.NewFileSet(),
	}
}

// ParseFile reads and parses a Go source file.
func (p *Parser) ParseFile(filePath string) (*types.ParseResult, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseSource(filePath, content), nil
}

// ParseSource parses content as the Go file at filePath and extracts symbols,
// imports and package information. Syntax errors are recorded on the result
// and whatever partial AST the parser produced is still walked.
func (p *Parser) ParseSource(filePath string, content []byte) *types.ParseResult {
	result := &types.ParseResult{}

	file, err := parser.ParseFile(p.fset, filePath, content, parser.ParseComments)
	var list scanner.ErrorList
	switch {
	case errors.As(err, &list):
		for _, e := range list {
			result.AddError(filePath, e.Pos.Line, e.Pos.Column, e.Msg)
		}
	case err != nil:
		result.AddError(filePath, 0, 0, fmt.Sprintf("syntax error: %v", err))
	}

	if file == nil {
		return result
	}

	if file.Name != nil {
		result.PackageName = file.Name.Name
	}
	result.Imports = p.extractImports(file)

	extractor := &symbolExtractor{
		fset:        p.fset,
		content:     content,
		packageName: result.PackageName,
		symbols:     make([]types.Symbol, 0),
	}
	ast.Inspect(file, extractor.visit)
	result.Symbols = extractor.symbols

	return result
}

// extractImports extracts import statements from the AST
func (p *Parser) extractImports(file *ast.File) []types.Import {
	imports := make([]types.Import, 0, len(file.Imports))

	for _, imp := range file.Imports {
		importSpec := types.Import{
			Path: strings.Trim(imp.Path.Value, `"`),
		}
		if imp.Name != nil {
			importSpec.Alias = imp.Name.Name
		}
		imports = append(imports, importSpec)
	}

	return imports
}

// symbolExtractor is a visitor for AST traversal that extracts symbols
type symbolExtractor struct {
	fset        *token.FileSet
	content     []byte
	packageName string
	symbols     []types.Symbol
}

// visit is called for each AST node during traversal
func (e *symbolExtractor) visit(node ast.Node) bool {
	if node == nil {
		return false
	}

	switch n := node.(type) {
	case *ast.FuncDecl:
		e.extractFunction(n)
	case *ast.GenDecl:
		e.extractGenDecl(n)
	case *ast.AssignStmt:
		e.extractAssignedLiterals(n)
	}

	return true
}

// extractFunction extracts function and method declarations
func (e *symbolExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	sym := types.Symbol{
		Name:       funcDecl.Name.Name,
		Package:    e.packageName,
		DocComment: e.extractDocComment(funcDecl.Doc),
		Start:      e.positionFromToken(funcDecl.Pos()),
		End:        e.positionFromToken(funcDecl.End()),
		Body:       e.sourceText(funcDecl.Pos(), funcDecl.End()),
		Scope:      e.determineScope(funcDecl.Name.Name),
	}

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sym.Kind = types.KindMethod
		sym.Receiver = e.extractReceiverType(funcDecl.Recv.List[0].Type)
	} else {
		sym.Kind = types.KindFunction
	}

	sym.Signature = e.extractFunctionSignature(funcDecl)
	sym.ReturnType = e.fieldListToString(funcDecl.Type.Results)
	if funcDecl.Body != nil {
		sym.Calls = e.collectCalls(funcDecl.Body)
	}

	e.symbols = append(e.symbols, sym)
}

// extractGenDecl extracts type declarations and package-level function literals
func (e *symbolExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	for _, spec := range genDecl.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			e.extractTypeSpec(s, genDecl.Doc)
		case *ast.ValueSpec:
			for i, name := range s.Names {
				if i < len(s.Values) {
					e.extractFuncLiteral(name, s.Values[i], genDecl.Doc)
				}
			}
		}
	}
}

// extractAssignedLiterals picks up `name := func(...) {...}` inside bodies
func (e *symbolExtractor) extractAssignedLiterals(assign *ast.AssignStmt) {
	if len(assign.Lhs) != len(assign.Rhs) {
		return
	}
	for i, lhs := range assign.Lhs {
		if ident, ok := lhs.(*ast.Ident); ok {
			e.extractFuncLiteral(ident, assign.Rhs[i], nil)
		}
	}
}

func (e *symbolExtractor) extractFuncLiteral(name *ast.Ident, value ast.Expr, doc *ast.CommentGroup) {
	lit, ok := value.(*ast.FuncLit)
	if !ok || name.Name == "_" {
		return
	}

	sym := types.Symbol{
		Name:       name.Name,
		Kind:       types.KindFuncLiteral,
		Package:    e.packageName,
		DocComment: e.extractDocComment(doc),
		Scope:      e.determineScope(name.Name),
		Start:      e.positionFromToken(name.Pos()),
		End:        e.positionFromToken(lit.End()),
		Body:       e.sourceText(name.Pos(), lit.End()),
		Signature:  e.funcTypeSignature(name.Name, lit.Type),
		ReturnType: e.fieldListToString(lit.Type.Results),
		Calls:      e.collectCalls(lit.Body),
	}

	e.symbols = append(e.symbols, sym)
}

// extractTypeSpec extracts struct and interface declarations
func (e *symbolExtractor) extractTypeSpec(typeSpec *ast.TypeSpec, doc *ast.CommentGroup) {
	sym := types.Symbol{
		Name:       typeSpec.Name.Name,
		Package:    e.packageName,
		DocComment: e.extractDocComment(doc),
		Scope:      e.determineScope(typeSpec.Name.Name),
		Start:      e.positionFromToken(typeSpec.Pos()),
		End:        e.positionFromToken(typeSpec.End()),
		Body:       e.sourceText(typeSpec.Pos(), typeSpec.End()),
	}

	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		sym.Kind = types.KindStruct
		sym.Signature = e.extractStructSignature(typeSpec.Name.Name, t)
	case *ast.InterfaceType:
		sym.Kind = types.KindInterface
		sym.Signature = e.extractInterfaceSignature(typeSpec.Name.Name, t)
	default:
		return
	}

	e.symbols = append(e.symbols, sym)
}

// collectCalls returns every call expression in body, nested literals included.
func (e *symbolExtractor) collectCalls(body *ast.BlockStmt) []types.CallSite {
	if body == nil {
		return nil
	}

	var calls []types.CallSite
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if name := calleeName(call.Fun); name != "" {
			calls = append(calls, types.CallSite{
				Name: name,
				Pos:  e.positionFromToken(call.Pos()),
			})
		}
		return true
	})
	return calls
}

// calleeName returns the identifier being called: `foo()` and `x.foo()` both
// yield "foo". Calls through index or other expressions have no name.
func calleeName(fun ast.Expr) string {
	switch f := fun.(type) {
	case *ast.Ident:
		return f.Name
	case *ast.SelectorExpr:
		return f.Sel.Name
	case *ast.IndexExpr:
		return calleeName(f.X)
	case *ast.IndexListExpr:
		return calleeName(f.X)
	case *ast.ParenExpr:
		return calleeName(f.X)
	default:
		return ""
	}
}

// extractReceiverType extracts the receiver type name from a method
func (e *symbolExtractor) extractReceiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return e.extractReceiverType(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return e.extractReceiverType(t.X)
	case *ast.IndexListExpr:
		return e.extractReceiverType(t.X)
	}
	return ""
}

// extractFunctionSignature builds a function signature string
func (e *symbolExtractor) extractFunctionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(e.exprToString(funcDecl.Recv.List[0].Type))
		sig.WriteString(") ")
	}

	sig.WriteString(funcDecl.Name.Name)
	e.writeParamsAndResults(&sig, funcDecl.Type)

	return sig.String()
}

func (e *symbolExtractor) funcTypeSignature(name string, ft *ast.FuncType) string {
	var sig strings.Builder
	sig.WriteString(name)
	sig.WriteString(" := func")
	e.writeParamsAndResults(&sig, ft)
	return sig.String()
}

func (e *symbolExtractor) writeParamsAndResults(sig *strings.Builder, ft *ast.FuncType) {
	sig.WriteString("(")
	if ft.Params != nil {
		sig.WriteString(e.fieldListToString(ft.Params))
	}
	sig.WriteString(")")

	if ft.Results != nil {
		results := e.fieldListToString(ft.Results)
		if results != "" {
			if ft.Results.NumFields() > 1 || len(ft.Results.List[0].Names) > 0 {
				sig.WriteString(" (")
				sig.WriteString(results)
				sig.WriteString(")")
			} else {
				sig.WriteString(" ")
				sig.WriteString(results)
			}
		}
	}
}

// extractStructSignature builds a struct signature string
func (e *symbolExtractor) extractStructSignature(name string, structType *ast.StructType) string {
	fieldCount := 0
	if structType.Fields != nil {
		fieldCount = structType.Fields.NumFields()
	}
	return fmt.Sprintf("type %s struct { ... } // %d fields", name, fieldCount)
}

// extractInterfaceSignature builds an interface signature string
func (e *symbolExtractor) extractInterfaceSignature(name string, interfaceType *ast.InterfaceType) string {
	methodCount := 0
	if interfaceType.Methods != nil {
		methodCount = interfaceType.Methods.NumFields()
	}
	return fmt.Sprintf("type %s interface { ... } // %d methods", name, methodCount)
}

// fieldListToString converts a field list to a string representation
func (e *symbolExtractor) fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := e.exprToString(field.Type)
		if len(field.Names) > 0 {
			for _, name := range field.Names {
				parts = append(parts, fmt.Sprintf("%s %s", name.Name, typeStr))
			}
		} else {
			parts = append(parts, typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts an expression to a string representation
func (e *symbolExtractor) exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + e.exprToString(t.X)
	case *ast.ArrayType:
		return "[]" + e.exprToString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", e.exprToString(t.Key), e.exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + e.exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.SelectorExpr:
		return e.exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + e.exprToString(t.Elt)
	case *ast.IndexExpr:
		return e.exprToString(t.X) + "[" + e.exprToString(t.Index) + "]"
	default:
		return "..."
	}
}

// extractDocComment extracts documentation from a comment group
func (e *symbolExtractor) extractDocComment(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

// determineScope determines if a symbol is exported or unexported
func (e *symbolExtractor) determineScope(name string) types.SymbolScope {
	if token.IsExported(name) {
		return types.ScopeExported
	}
	return types.ScopeUnexported
}

// positionFromToken converts a token position to our Position type
func (e *symbolExtractor) positionFromToken(pos token.Pos) types.Position {
	position := e.fset.Position(pos)
	return types.Position{
		Line:   position.Line,
		Column: position.Column,
	}
}

// sourceText returns the source between two positions, or "" when the
// offsets fall outside the content.
func (e *symbolExtractor) sourceText(start, end token.Pos) string {
	from := e.fset.Position(start).Offset
	to := e.fset.Position(end).Offset
	if from < 0 || to > len(e.content) || from > to {
		return ""
	}
	return string(e.content[from:to])
}
