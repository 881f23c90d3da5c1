package parser

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// parseJSON pretty-prints the document so nesting is readable in context
// windows. Invalid JSON falls back to the raw text.
func parseJSON(data []byte) (*Result, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return parseText(data)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return parseText(data)
	}
	return &Result{Text: string(out)}, nil
}

// parseYAML round-trips the document through the YAML codec, which
// normalizes indentation and strips comments. Invalid YAML falls back to
// the raw text.
func parseYAML(data []byte) (*Result, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return parseText(data)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return parseText(data)
	}
	return &Result{Text: strings.TrimRight(string(out), "\n")}, nil
}

// parseXML projects the document to "tag: text" lines, one per leaf
// element, indented by depth. Malformed XML falls back to the raw text.
func parseXML(data []byte) (*Result, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	var b strings.Builder
	var stack []string
	var pending string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return parseText(data)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			pending = ""
		case xml.CharData:
			pending += string(t)
		case xml.EndElement:
			if text := strings.TrimSpace(pending); text != "" && len(stack) > 0 {
				fmt.Fprintf(&b, "%s%s: %s\n", strings.Repeat("  ", len(stack)-1), stack[len(stack)-1], text)
			}
			pending = ""
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	text := strings.TrimRight(b.String(), "\n")
	if text == "" {
		return parseText(data)
	}
	return &Result{Text: text}, nil
}

// parseCSV renders the sheet as a markdown table, first row as header.
func parseCSV(data []byte) (*Result, error) {
	r := csv.NewReader(bytes.NewReader(decodeBytes(data)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("file contains no text")
	}
	return &Result{Text: markdownTable(rows)}, nil
}

func markdownTable(rows [][]string) string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	var b strings.Builder
	for i, row := range rows {
		cells := make([]string, width)
		for j := range cells {
			if j < len(row) {
				cells[j] = strings.ReplaceAll(strings.TrimSpace(row[j]), "|", "\\|")
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		if i == 0 {
			seps := make([]string, width)
			for j := range seps {
				seps[j] = "---"
			}
			b.WriteString("| " + strings.Join(seps, " | ") + " |\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func decodeBytes(data []byte) []byte {
	return []byte(decodeText(data))
}
