/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jung-kurt/gofpdf"
)

// PDFOptions controls the parts list layout. Units are points.
type PDFOptions struct {
	Title    string
	Author   string
	PageSize string // gofpdf size name, "A4" when empty
	FontSize float64
}

const (
	pdfMargin  = 36.0
	rowPadding = 4.0
)

// column widths as fractions of the printable width
var pdfColumns = []struct {
	title string
	frac  float64
	align string
}{
	{"Part", 0.2, "L"},
	{"Description", 0.56, "L"},
	{"Color", 0.12, "R"},
	{"Qty", 0.12, "R"},
}

// WritePDF renders entries as a table into a PDF at outPath. Missing directories are created.
func WritePDF(outPath string, entries []Entry, opt PDFOptions) error {
	size := opt.PageSize
	if size == "" {
		size = "A4"
	}
	fs := opt.FontSize
	if fs <= 0 {
		fs = 10
	}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt", SizeStr: size})
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	if opt.Title != "" {
		pdf.SetTitle(opt.Title, true)
	}
	if opt.Author != "" {
		pdf.SetAuthor(opt.Author, true)
	}
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	width := pageW - 2*pdfMargin
	rowH := fs + 2*rowPadding

	if opt.Title != "" {
		pdf.SetFont("Helvetica", "B", fs*1.6)
		pdf.CellFormat(width, fs*2.4, tr(opt.Title), "", 1, "L", false, 0, "")
	}

	header := func() {
		pdf.SetFont("Helvetica", "B", fs)
		pdf.SetFillColor(220, 220, 220)
		for _, c := range pdfColumns {
			pdf.CellFormat(width*c.frac, rowH, c.title, "1", 0, c.align, true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", fs)
	}
	pdf.SetHeaderFunc(func() {
		if pdf.PageNo() > 1 {
			header()
		}
	})
	header()

	for _, e := range entries {
		cells := []string{e.PartID, e.Description, strconv.Itoa(e.Color), strconv.Itoa(e.Count)}
		for i, c := range pdfColumns {
			pdf.CellFormat(width*c.frac, rowH, tr(cells[i]), "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.SetFont("Helvetica", "B", fs)
	pdf.CellFormat(width*(1-pdfColumns[3].frac), rowH, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(width*pdfColumns[3].frac, rowH, strconv.Itoa(Total(entries)), "1", 1, "R", false, 0, "")

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
