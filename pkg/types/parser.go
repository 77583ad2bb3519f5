package types

import "fmt"

// ParseResult is what the structural parser extracts from one file.
type ParseResult struct {
	PackageName string
	Symbols     []Symbol
	Imports     []Import

	// Syntax errors. A file with errors is left out of the graph.
	Errors []ParseError
}

// Import is one import declaration.
type Import struct {
	Path  string
	Alias string // "", "_", "." or a local name
}

// ParseError is a syntax error at a position. Line and Column are 0 when
// the parser could not attribute the error to a position.
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (pe *ParseError) Error() string {
	if pe.Line == 0 {
		return fmt.Sprintf("%s: %s", pe.File, pe.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s", pe.File, pe.Line, pe.Column, pe.Message)
}

// HasErrors reports whether the file failed to parse.
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// Err returns the first syntax error, or nil.
func (pr *ParseResult) Err() error {
	if len(pr.Errors) == 0 {
		return nil
	}
	return &pr.Errors[0]
}

// AddError records a syntax error.
func (pr *ParseResult) AddError(file string, line, col int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{File: file, Line: line, Column: col, Message: msg})
}
