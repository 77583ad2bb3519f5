package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/dshills/codegraph-mcp/internal/parser"
)

// fileFilter decides which root-relative paths take part in indexing.
type fileFilter struct {
	gitignore     *ignore.GitIgnore
	includeVendor bool
	exclude       []string
}

func newFileFilter(root string, includeVendor bool, exclude []string) *fileFilter {
	f := &fileFilter{includeVendor: includeVendor, exclude: exclude}
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		f.gitignore = gi
	}
	return f
}

// skipDir reports whether a directory and everything under it is excluded.
func (f *fileFilter) skipDir(rel string) bool {
	name := filepath.Base(rel)
	if strings.HasPrefix(name, ".") {
		return true
	}
	if !f.includeVendor && (name == "vendor" || name == "node_modules") {
		return true
	}
	return f.ignored(rel + "/")
}

// keepFile reports whether a file is indexed. Every ancestor directory is
// checked too so paths reported by source control get the same treatment
// as walked ones.
func (f *fileFilter) keepFile(rel string) bool {
	if parser.DetectLanguage(rel) == "" {
		return false
	}
	dir := filepath.ToSlash(filepath.Dir(rel))
	if dir != "." {
		parts := strings.Split(dir, "/")
		for i := range parts {
			if f.skipDir(strings.Join(parts[:i+1], "/")) {
				return false
			}
		}
	}
	if strings.HasPrefix(filepath.Base(rel), ".") {
		return false
	}
	return !f.ignored(rel)
}

func (f *fileFilter) ignored(rel string) bool {
	for _, pattern := range f.exclude {
		if ok, _ := filepath.Match(pattern, filepath.Base(strings.TrimSuffix(rel, "/"))); ok {
			return true
		}
		if strings.HasPrefix(rel, strings.TrimSuffix(pattern, "/")+"/") {
			return true
		}
	}
	return f.gitignore != nil && f.gitignore.MatchesPath(rel)
}

// discoverFiles walks root and returns the absolute paths of every kept file
// in lexical order.
func discoverFiles(root string, filter *fileFilter) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if filter.skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if filter.keepFile(rel) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// resolveChanged maps root-relative paths reported by source control to
// absolute paths of files that still exist and pass the filter.
func resolveChanged(root string, rels []string, filter *fileFilter) []string {
	var files []string
	for _, rel := range rels {
		rel = filepath.ToSlash(rel)
		if !filter.keepFile(rel) {
			continue
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(abs)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, abs)
	}
	return files
}
