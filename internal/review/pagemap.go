package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// PageMap maps a variable name to the page paths that render it.
type PageMap map[string][]string

// PagesFor returns the pages that render name.
func (m PageMap) PagesFor(name string) []string {
	return m[name]
}

// VariablesInPage returns the variables rendered by page, sorted.
func (m PageMap) VariablesInPage(page string) []string {
	var out []string
	for name, pages := range m {
		for _, p := range pages {
			if p == page {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// LoadPageMap chooses the page map source: the JSON file at mapPath when it
// exists, otherwise a scan of templatesDir, otherwise an empty map.
func LoadPageMap(mapPath, templatesDir string) (PageMap, error) {
	if mapPath != "" {
		m, err := ReadPageMap(mapPath)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if templatesDir != "" {
		return ScanTemplates(templatesDir)
	}
	return PageMap{}, nil
}

// ReadPageMap reads a JSON page map file.
func ReadPageMap(p string) (PageMap, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("review: read page map: %w", err)
	}
	m := PageMap{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("review: parse page map %s: %w", p, err)
	}
	return m, nil
}

// WritePageMap writes m as indented JSON with sorted page lists.
func WritePageMap(p string, m PageMap) error {
	for name := range m {
		sort.Strings(m[name])
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("review: encode page map: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("review: write page map: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("review: write page map: %w", err)
	}
	return nil
}

// ScanTemplates builds a page map from {{variable}} placeholders in the
// .json and .html files under dir. A file's page path is its path relative
// to dir without the extension; index files stand for their directory.
func ScanTemplates(dir string) (PageMap, error) {
	m := PageMap{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "variables" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".json" && ext != ".html" {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		page := pagePath(rel)
		for _, match := range placeholder.FindAllStringSubmatch(string(data), -1) {
			m.add(match[1], page)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("review: scan templates %s: %w", dir, err)
	}
	for name := range m {
		sort.Strings(m[name])
	}
	return m, nil
}

func (m PageMap) add(name, page string) {
	for _, p := range m[name] {
		if p == page {
			return
		}
	}
	m[name] = append(m[name], page)
}

func pagePath(rel string) string {
	p := "/" + strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
	if p == "/index" {
		return "/"
	}
	return strings.TrimSuffix(p, "/index")
}
