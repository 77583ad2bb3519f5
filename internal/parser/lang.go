package parser

import (
	"path"
	"strings"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// Language names reported for tracked files.
const (
	LangGo         = "go"
	LangGoModule   = "gomod"
	LangTypeScript = "typescript"
	LangJavaScript = "javascript"
	LangPython     = "python"
	LangJava       = "java"
	LangKotlin     = "kotlin"
	LangRust       = "rust"
	LangC          = "c"
	LangCPP        = "cpp"
	LangCSharp     = "csharp"
	LangRuby       = "ruby"
	LangPHP        = "php"
	LangSwift      = "swift"
	LangScala      = "scala"
	LangShell      = "shell"
	LangSQL        = "sql"
	LangYAML       = "yaml"
	LangJSON       = "json"
	LangTOML       = "toml"
	LangMarkdown   = "markdown"
)

var extensionLanguages = map[string]string{
	".go":    LangGo,
	".ts":    LangTypeScript,
	".tsx":   LangTypeScript,
	".mts":   LangTypeScript,
	".js":    LangJavaScript,
	".jsx":   LangJavaScript,
	".mjs":   LangJavaScript,
	".cjs":   LangJavaScript,
	".py":    LangPython,
	".java":  LangJava,
	".kt":    LangKotlin,
	".rs":    LangRust,
	".c":     LangC,
	".h":     LangC,
	".cc":    LangCPP,
	".cpp":   LangCPP,
	".hpp":   LangCPP,
	".cs":    LangCSharp,
	".rb":    LangRuby,
	".php":   LangPHP,
	".swift": LangSwift,
	".scala": LangScala,
	".sh":    LangShell,
	".bash":  LangShell,
	".sql":   LangSQL,
	".yaml":  LangYAML,
	".yml":   LangYAML,
	".json":  LangJSON,
	".toml":  LangTOML,
	".md":    LangMarkdown,
}

// DetectLanguage classifies a path by extension. It returns "" for files
// that are not tracked.
func DetectLanguage(filePath string) string {
	base := path.Base(filePath)
	if base == "go.mod" || base == "go.sum" {
		return LangGoModule
	}
	return extensionLanguages[strings.ToLower(path.Ext(base))]
}

// IsAnalyzable reports whether files of the language get a structural parse.
func IsAnalyzable(language string) bool {
	return language == LangGo
}

var (
	testSuffixes       = []string{"_test.go", "_test.py", "_test.rs", "_spec.rb"}
	testPrefixes       = []string{"test_"}
	testStripExtSuffix = []string{".test", ".spec", "_test"}
	testDirs           = map[string]bool{"test": true, "tests": true, "__tests__": true, "spec": true}
)

// IsTestPath reports whether a slash-separated path looks like a test file.
// Matching is case-insensitive.
func IsTestPath(filePath string) bool {
	lower := strings.ToLower(filePath)
	base := path.Base(lower)

	for _, s := range testSuffixes {
		if strings.HasSuffix(base, s) {
			return true
		}
	}
	for _, p := range testPrefixes {
		if strings.HasPrefix(base, p) {
			return true
		}
	}
	noExt := strings.TrimSuffix(base, path.Ext(base))
	for _, s := range testStripExtSuffix {
		if strings.HasSuffix(noExt, s) {
			return true
		}
	}
	for _, dir := range strings.Split(path.Dir(lower), "/") {
		if testDirs[dir] {
			return true
		}
	}
	return false
}

var devFiles = map[string]bool{
	"makefile": true, "dockerfile": true, ".golangci.yml": true, ".golangci.yaml": true,
	".editorconfig": true, ".gitignore": true, "justfile": true,
}

// Categorize assigns a file category from its project-relative path.
func Categorize(filePath string) types.FileCategory {
	lower := strings.ToLower(filePath)
	for _, dir := range strings.Split(path.Dir(lower), "/") {
		if dir == "vendor" || dir == "node_modules" || dir == "third_party" {
			return types.CategoryVendor
		}
	}
	if IsTestPath(lower) {
		return types.CategoryTest
	}

	base := path.Base(lower)
	if devFiles[base] || strings.HasPrefix(lower, ".github/") || strings.HasPrefix(lower, "scripts/") {
		return types.CategoryDev
	}
	switch DetectLanguage(lower) {
	case LangYAML, LangJSON, LangTOML:
		return types.CategoryConfig
	}
	if base == "go.mod" || base == "go.sum" {
		return types.CategoryConfig
	}
	return types.CategorySource
}

var testDeclPrefixes = []string{"Test", "Benchmark", "Example", "Fuzz"}

// IsTestFunction reports whether a Go function name is a test entry point.
func IsTestFunction(name string) bool {
	for _, p := range testDeclPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// GuessTestFramework infers the test framework from a file's imports.
func GuessTestFramework(imports []types.Import) string {
	framework := "testing"
	for _, imp := range imports {
		switch {
		case strings.HasPrefix(imp.Path, "github.com/onsi/ginkgo"):
			return "ginkgo"
		case strings.HasPrefix(imp.Path, "github.com/stretchr/testify"):
			framework = "testify"
		case strings.HasPrefix(imp.Path, "github.com/onsi/gomega") && framework == "testing":
			framework = "gomega"
		}
	}
	return framework
}
