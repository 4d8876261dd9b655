package notebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLoad is wrapped by every error that stems from reading or parsing a
// notebook file.
var ErrLoad = errors.New("cannot load notebook")

// SupportedFormat is the only nbformat major version accepted.
const SupportedFormat = 4

// Load reads the notebook at path. Missing files and malformed documents
// both wrap ErrLoad.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes nbformat v4 JSON.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrLoad, err)
	}
	if doc.NBFormat != SupportedFormat {
		return nil, fmt.Errorf("%w: unsupported nbformat %d (want %d)", ErrLoad, doc.NBFormat, SupportedFormat)
	}
	for i, c := range doc.Cells {
		switch c.CellType {
		case CellCode, CellMarkdown, CellRaw:
		default:
			return nil, fmt.Errorf("%w: cell %d has unknown cell_type %q", ErrLoad, i, c.CellType)
		}
	}
	return &doc, nil
}

// ToJSON serializes the document the way Jupyter writes it (one-space indent).
func (d *Document) ToJSON() ([]byte, error) {
	return json.MarshalIndent(d, "", " ")
}

// WriteFile writes the document to path, creating parent directories if needed.
func (d *Document) WriteFile(path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	data, err := d.ToJSON()
	if err != nil {
		return err
	}
	data = append(data, '\n')

	return os.WriteFile(path, data, 0644)
}
