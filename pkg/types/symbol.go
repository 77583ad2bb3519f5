package types

import (
	"errors"
	"go/token"
)

// SymbolKind represents the type of Go language symbol
type SymbolKind string

const (
	KindFunction    SymbolKind = "function"
	KindMethod      SymbolKind = "method"
	KindFuncLiteral SymbolKind = "func_literal"
	KindStruct      SymbolKind = "struct"
	KindInterface   SymbolKind = "interface"
)

// SymbolScope represents the visibility scope of a symbol
type SymbolScope string

const (
	ScopeExported   SymbolScope = "exported"
	ScopeUnexported SymbolScope = "unexported"
)

// Position represents a location in source code
type Position struct {
	Line   int
	Column int
}

// CallSite is a call expression found inside a function body. Name is the
// called identifier, the final selector segment for qualified calls.
type CallSite struct {
	Name string
	Pos  Position
}

// Symbol represents a code symbol extracted from Go source via AST parsing
type Symbol struct {
	// Identification
	Name    string
	Kind    SymbolKind
	Package string

	// Content
	Signature  string
	ReturnType string
	DocComment string
	Body       string

	// Scope
	Scope    SymbolScope
	Receiver string // For methods: receiver type name

	// Location
	Start Position
	End   Position

	// Calls made from the body, in source order. Only set for callables.
	Calls []CallSite
}

// IsCallable reports whether the symbol is a function, method or named
// function literal.
func (s *Symbol) IsCallable() bool {
	return s.Kind == KindFunction || s.Kind == KindMethod || s.Kind == KindFuncLiteral
}

// IsExported returns true if the symbol is exported (visible outside package)
func (s *Symbol) IsExported() bool {
	return s.Scope == ScopeExported && token.IsExported(s.Name)
}

// Validate performs comprehensive validation of the symbol
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return errors.New("symbol name is required")
	}

	switch s.Kind {
	case KindFunction, KindMethod, KindFuncLiteral, KindStruct, KindInterface:
	default:
		return errors.New("invalid symbol kind")
	}

	// Methods must have a receiver
	if s.Kind == KindMethod && s.Receiver == "" {
		return errors.New("methods must have a receiver type")
	}

	if s.Kind != KindMethod && s.Receiver != "" {
		return errors.New("only methods can have a receiver type")
	}

	if s.Start.Line <= 0 || s.End.Line <= 0 {
		return errors.New("invalid position: line numbers must be positive")
	}

	if s.Start.Line > s.End.Line {
		return errors.New("invalid position: start line must be before or equal to end line")
	}

	return nil
}
