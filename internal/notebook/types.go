// Package notebook models nbformat v4 documents: an ordered list of cells,
// each with a source and, once executed, an ordered list of outputs.
package notebook

import "encoding/json"

// CellType identifies the kind of a notebook cell.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellRaw      CellType = "raw"
)

// OutputType tags the variant carried by an Output.
type OutputType string

const (
	OutputStream        OutputType = "stream"
	OutputDisplayData   OutputType = "display_data"
	OutputExecuteResult OutputType = "execute_result"
	OutputError         OutputType = "error"
)

// Document is a notebook as stored on disk.
type Document struct {
	NBFormat      int             `json:"nbformat"`
	NBFormatMinor int             `json:"nbformat_minor"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Cells         []Cell          `json:"cells"`
}

// Cell is one notebook cell. Outputs are only meaningful for code cells.
type Cell struct {
	ID             string          `json:"id,omitempty"`
	CellType       CellType        `json:"cell_type"`
	Metadata       CellMetadata    `json:"metadata"`
	Source         MultilineString `json:"source"`
	ExecutionCount *int            `json:"execution_count,omitempty"`
	Outputs        []Output        `json:"outputs,omitempty"`
	Attachments    json.RawMessage `json:"attachments,omitempty"`
}

// CellMetadata keeps the tags nbsmoke understands and passes everything
// else through untouched.
type CellMetadata struct {
	Tags  []string
	Extra map[string]json.RawMessage
}

// Output is a tagged variant keyed by OutputType:
//   - stream: Name, Text
//   - display_data / execute_result: Data (by MIME type), Metadata
//   - error: EName, EValue, Traceback
type Output struct {
	OutputType     OutputType                 `json:"output_type"`
	Name           string                     `json:"name,omitempty"`
	Text           MultilineString            `json:"text,omitempty"`
	Data           map[string]json.RawMessage `json:"data,omitempty"`
	Metadata       json.RawMessage            `json:"metadata,omitempty"`
	ExecutionCount *int                       `json:"execution_count,omitempty"`
	EName          string                     `json:"ename,omitempty"`
	EValue         string                     `json:"evalue,omitempty"`
	Traceback      []string                   `json:"traceback,omitempty"`
}

// IsError reports whether the output is an error record.
func (o Output) IsError() bool {
	return o.OutputType == OutputError
}

// DataText returns the MIME-keyed value as text. String and list-of-string
// payloads are joined; any other JSON value is returned verbatim.
func (o Output) DataText(mime string) (string, bool) {
	raw, ok := o.Data[mime]
	if !ok {
		return "", false
	}
	var ms MultilineString
	if err := json.Unmarshal(raw, &ms); err == nil {
		return ms.String(), true
	}
	return string(raw), true
}

// HasTag reports whether the cell metadata carries the given tag.
func (c Cell) HasTag(tag string) bool {
	for _, t := range c.Metadata.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CellByTag returns the index of the first cell carrying the tag.
func (d *Document) CellByTag(tag string) (int, bool) {
	for i, c := range d.Cells {
		if c.HasTag(tag) {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy via a JSON round trip so engines can annotate
// a document without touching the caller's copy.
func (d *Document) Clone() (*Document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
