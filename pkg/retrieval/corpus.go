package retrieval

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// Document is one chunk of reference material.
type Document struct {
	ID      string
	Source  string
	Content string
}

// LoadOptions controls which files of the corpus directory are read.
type LoadOptions struct {
	Include    []string // doublestar globs relative to the corpus root
	IgnoreFile string   // gitignore-syntax file inside the corpus root
	ChunkSize  int      // characters per chunk; <= 0 disables chunking
}

// LoadCorpus walks dir and returns its documents in a stable order.
func LoadCorpus(dir string, opts LoadOptions) ([]Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: corpus %s: %v", ErrUnavailable, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: corpus %s is not a directory", ErrUnavailable, dir)
	}

	rules := ignoreRules(dir, opts.IgnoreFile)
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	var docs []Document
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || (rules != nil && rules.MatchesPath(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if rules != nil && rules.MatchesPath(rel) {
			return nil
		}
		if !matchesAny(opts.Include, rel) {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		text := string(raw)
		if ext := strings.ToLower(filepath.Ext(rel)); ext == ".html" || ext == ".htm" {
			if text, err = converter.ConvertString(text); err != nil {
				return fmt.Errorf("convert %s: %w", rel, err)
			}
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}

		for i, chunk := range chunkText(text, opts.ChunkSize) {
			docs = append(docs, Document{
				ID:      fmt.Sprintf("%s#%d", rel, i),
				Source:  rel,
				Content: chunk,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func matchesAny(patterns []string, rel string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// ignoreRules reads the corpus ignore file, if any.
func ignoreRules(dir, name string) *ignore.GitIgnore {
	if name == "" {
		return nil
	}
	file, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(lines...)
}

// chunkText splits on blank lines and packs paragraphs up to size characters.
// A single paragraph longer than size is split hard.
func chunkText(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		for len(para) > size {
			flush()
			chunks = append(chunks, strings.TrimSpace(para[:size]))
			para = para[size:]
		}
		if current.Len() > 0 && current.Len()+2+len(para) > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}
