package ingestion

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/lu4p/cat"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Document is one loaded source file ready for chunking.
type Document struct {
	Filename   string
	Content    string
	SkipHeader bool
}

// LoadStats counts what happened during a folder scan.
type LoadStats struct {
	FilesLoaded  int
	FilesSkipped int
	FilesFailed  int
}

var supportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".csv":  true,
	".tsv":  true,
	".docx": true,
}

var delimitedExtensions = map[string]bool{
	".csv": true,
	".tsv": true,
}

// Loader reads the corpus folder
type Loader struct {
	folder string
	logger *slog.Logger
}

// NewLoader creates a loader for the given corpus folder.
func NewLoader(folder string, logger *slog.Logger) *Loader {
	return &Loader{folder: folder, logger: logger}
}

// Load reads every supported file in the folder. Unreadable files are
// logged, counted, and skipped; they never abort the scan.
func (l *Loader) Load() ([]Document, LoadStats, error) {
	entries, err := os.ReadDir(l.folder)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to read corpus folder: %w", err)
	}

	var docs []Document
	var stats LoadStats
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if isTempFile(name) || !supportedExtensions[ext] {
			stats.FilesSkipped++
			continue
		}

		content, err := readFile(filepath.Join(l.folder, name), ext)
		if err != nil {
			l.logger.Warn("skipping unreadable file", "file", name, "error", err)
			stats.FilesFailed++
			continue
		}
		content = strings.TrimSpace(content)
		if content == "" {
			stats.FilesSkipped++
			continue
		}

		docs = append(docs, Document{
			Filename:   name,
			Content:    content,
			SkipHeader: delimitedExtensions[ext] && hasHeaderRow(content),
		})
		stats.FilesLoaded++
	}

	return docs, stats, nil
}

// isTempFile reports whether name looks like an editor or OS artifact
// rather than corpus content.
func isTempFile(name string) bool {
	if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tmp", ".bak", ".swp", ".lock":
		return true
	}
	lower := strings.ToLower(name)
	return lower == "thumbs.db" || lower == "desktop.ini"
}

// hasHeaderRow reports whether the first line of a delimited file looks
// like a column header row.
func hasHeaderRow(content string) bool {
	line, _, _ := strings.Cut(content, "\n")
	return strings.ContainsAny(line, "\t,|")
}

func readFile(path, ext string) (string, error) {
	if ext == ".docx" {
		text, err := cat.File(path)
		if err != nil {
			return "", fmt.Errorf("failed to extract docx text: %w", err)
		}
		return text, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	// Legacy files written by Windows tools tend to be GBK.
	decoded, _, err := transform.Bytes(simplifiedchinese.GBK.NewDecoder(), raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode as gbk: %w", err)
	}
	return string(decoded), nil
}
