package extract

import (
	"bytes"
	"context"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser extracts spreadsheet attachments: one section per sheet,
// rows rendered as pipe-delimited lines.
type XLSXParser struct{}

// Extract opens the workbook from memory. Unexpected formats degrade to a
// warning, matching the contract of the other extractors.
func (p *XLSXParser) Extract(_ context.Context, sourceURL, _ string, body []byte) *Content {
	c := &Content{SourceURL: sourceURL}

	if len(body) == 0 {
		c.Warnings = append(c.Warnings, WarnEmptyDocument)
		return c
	}

	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		c.Warnings = append(c.Warnings, WarnUnparseableXLSX)
		return c
	}
	defer f.Close()

	var sections []Section
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		var content strings.Builder
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " | "))
			if line == "" {
				continue
			}
			content.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		if content.Len() == 0 {
			continue
		}
		sections = append(sections, Section{
			Heading: sheet,
			Text:    strings.TrimSpace(content.String()),
			Level:   1,
		})
	}

	if len(sections) == 0 {
		c.Warnings = append(c.Warnings, WarnEmptyDocument)
		return c
	}

	c.Sections = sections
	c.BodyText = joinSections(sections)
	return c
}
