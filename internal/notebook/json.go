package notebook

import (
	"encoding/json"
	"strings"
)

// MultilineString is nbformat's "multiline string": stored either as one
// JSON string or as a list of lines, always handled here as one string.
type MultilineString string

// UnmarshalJSON accepts a string, a list of strings or null.
func (m *MultilineString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*m = ""
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var lines []string
		if err := json.Unmarshal(data, &lines); err != nil {
			return err
		}
		*m = MultilineString(strings.Join(lines, ""))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = MultilineString(s)
	return nil
}

// MarshalJSON writes the list-of-lines form, splitting after each newline.
func (m MultilineString) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Lines())
}

// Lines splits the text after every newline, keeping the newline.
func (m MultilineString) Lines() []string {
	lines := strings.SplitAfter(string(m), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (m MultilineString) String() string {
	return string(m)
}

// UnmarshalJSON pulls out "tags" and keeps every other key verbatim.
func (cm *CellMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cm.Tags = nil
	if tags, ok := raw["tags"]; ok {
		if err := json.Unmarshal(tags, &cm.Tags); err != nil {
			return err
		}
		delete(raw, "tags")
	}
	if len(raw) == 0 {
		raw = nil
	}
	cm.Extra = raw
	return nil
}

// MarshalJSON merges tags back with the passthrough keys.
func (cm CellMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(cm.Extra)+1)
	for k, v := range cm.Extra {
		out[k] = v
	}
	if len(cm.Tags) > 0 {
		out["tags"] = cm.Tags
	}
	return json.Marshal(out)
}

// MarshalJSON writes the nbformat v4 shape: code cells always carry
// execution_count (possibly null) and outputs, other cells carry neither.
func (c Cell) MarshalJSON() ([]byte, error) {
	if c.CellType != CellCode {
		type textCell struct {
			ID          string          `json:"id,omitempty"`
			CellType    CellType        `json:"cell_type"`
			Metadata    CellMetadata    `json:"metadata"`
			Source      MultilineString `json:"source"`
			Attachments json.RawMessage `json:"attachments,omitempty"`
		}
		return json.Marshal(textCell{
			ID:          c.ID,
			CellType:    c.CellType,
			Metadata:    c.Metadata,
			Source:      c.Source,
			Attachments: c.Attachments,
		})
	}

	type codeCell struct {
		ID             string          `json:"id,omitempty"`
		CellType       CellType        `json:"cell_type"`
		Metadata       CellMetadata    `json:"metadata"`
		Source         MultilineString `json:"source"`
		ExecutionCount *int            `json:"execution_count"`
		Outputs        []Output        `json:"outputs"`
	}
	outputs := c.Outputs
	if outputs == nil {
		outputs = []Output{}
	}
	return json.Marshal(codeCell{
		ID:             c.ID,
		CellType:       c.CellType,
		Metadata:       c.Metadata,
		Source:         c.Source,
		ExecutionCount: c.ExecutionCount,
		Outputs:        outputs,
	})
}

// MarshalJSON writes the fields nbformat v4 requires for each output type:
// stream text, display metadata, execute_result execution_count (possibly
// null) and error traceback are always present.
func (o Output) MarshalJSON() ([]byte, error) {
	switch o.OutputType {
	case OutputStream:
		return json.Marshal(struct {
			OutputType OutputType      `json:"output_type"`
			Name       string          `json:"name"`
			Text       MultilineString `json:"text"`
		}{o.OutputType, o.Name, o.Text})
	case OutputDisplayData:
		return json.Marshal(struct {
			OutputType OutputType                 `json:"output_type"`
			Data       map[string]json.RawMessage `json:"data"`
			Metadata   json.RawMessage            `json:"metadata"`
		}{o.OutputType, dataOrEmpty(o.Data), objectOrEmpty(o.Metadata)})
	case OutputExecuteResult:
		return json.Marshal(struct {
			OutputType     OutputType                 `json:"output_type"`
			ExecutionCount *int                       `json:"execution_count"`
			Data           map[string]json.RawMessage `json:"data"`
			Metadata       json.RawMessage            `json:"metadata"`
		}{o.OutputType, o.ExecutionCount, dataOrEmpty(o.Data), objectOrEmpty(o.Metadata)})
	case OutputError:
		traceback := o.Traceback
		if traceback == nil {
			traceback = []string{}
		}
		return json.Marshal(struct {
			OutputType OutputType `json:"output_type"`
			EName      string     `json:"ename"`
			EValue     string     `json:"evalue"`
			Traceback  []string   `json:"traceback"`
		}{o.OutputType, o.EName, o.EValue, traceback})
	default:
		type output Output
		return json.Marshal(output(o))
	}
}

func dataOrEmpty(data map[string]json.RawMessage) map[string]json.RawMessage {
	if data == nil {
		return map[string]json.RawMessage{}
	}
	return data
}

func objectOrEmpty(raw json.RawMessage) json.RawMessage {
	if isEmptyJSON(raw) {
		return json.RawMessage("{}")
	}
	return raw
}

// MarshalJSON fills in an empty metadata object when none was loaded.
func (d Document) MarshalJSON() ([]byte, error) {
	type document Document
	out := document(d)
	out.Metadata = objectOrEmpty(out.Metadata)
	if out.Cells == nil {
		out.Cells = []Cell{}
	}
	return json.Marshal(out)
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
