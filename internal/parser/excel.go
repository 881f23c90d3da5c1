package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// parseExcel renders every sheet of a workbook as a titled markdown
// table.
func parseExcel(data []byte) (*Result, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer wb.Close()

	var sections []string
	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		sections = append(sections, fmt.Sprintf("## Sheet: %s\n\n%s", sheet, markdownTable(rows)))
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("workbook contains no data")
	}
	return &Result{Text: strings.Join(sections, "\n\n")}, nil
}
