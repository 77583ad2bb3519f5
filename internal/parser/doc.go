// Package parser extracts symbols and metadata from Go source files using AST parsing.
//
// The parser uses go/parser, go/ast and go/token to extract functions,
// methods, named function literals, structs and interfaces together with the
// call sites found inside every function body.
//
// # Basic Usage
//
//	p := parser.New()
//	result, err := p.ParseFile("/path/to/file.go")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, symbol := range result.Symbols {
//	    fmt.Printf("Found %s: %s calls %d\n", symbol.Kind, symbol.Name, len(symbol.Calls))
//	}
//
// # Error Handling
//
// Syntax errors are recorded on the result instead of being returned:
//
//	result := p.ParseSource("broken.go", content)
//	if result.HasErrors() {
//	    // callers decide whether a partial parse is usable
//	}
//
// # Classification
//
// DetectLanguage, IsTestPath and Categorize classify any tracked file by its
// path. Only Go is analyzable; other languages are tracked at file level.
package parser
