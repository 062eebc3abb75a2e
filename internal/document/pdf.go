package document

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"
)

const (
	fontFamily = "Helvetica"

	marginLeft   = 20.0
	marginTop    = 15.0
	marginRight  = 20.0
	marginBottom = 20.0

	logoWidth  = 60.0
	logoHeight = 30.0

	labelWidth     = 30.0
	signatureWidth = 80.0
	listIndent     = 7.0
)

// epoch replaces a zero creation date, which fpdf would otherwise fill with
// the current time.
var epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// WritePDF renders l as an A4 PDF. Equal layouts produce equal bytes. A logo
// that is missing or unreadable is left out.
func WritePDF(w io.Writer, l Layout) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginLeft, marginTop, marginRight)
	pdf.SetAutoPageBreak(true, marginBottom)
	pdf.SetCatalogSort(true)

	created := l.Created
	if created.IsZero() {
		created = epoch
	}
	pdf.SetCreationDate(created)
	pdf.SetModificationDate(created)
	pdf.SetTitle(Title, true)
	pdf.SetCreator("sismed", false)

	pdf.AddPage()
	pageW, _ := pdf.GetPageSize()
	bodyW := pageW - marginLeft - marginRight

	for _, n := range l.Nodes {
		switch n.Kind {
		case KindLogo:
			drawLogo(pdf, n.Path, pageW)
		case KindHeader:
			pdf.SetFont(fontFamily, "B", 14)
			pdf.CellFormat(bodyW, 7, winAnsi(n.Text), "", 1, "C", false, 0, "")
			pdf.Ln(2)
		case KindTitle:
			pdf.SetFont(fontFamily, "B", 18)
			pdf.CellFormat(bodyW, 9, winAnsi(n.Text), "", 1, "C", false, 0, "")
			pdf.Ln(4)
		case KindTable:
			for _, r := range n.Rows {
				pdf.SetFont(fontFamily, "B", 11)
				pdf.CellFormat(labelWidth, 6, winAnsi(r.Label), "", 0, "L", false, 0, "")
				pdf.SetFont(fontFamily, "", 11)
				pdf.MultiCell(bodyW-labelWidth, 6, winAnsi(r.Value), "", "L", false)
			}
		case KindHeading:
			pdf.SetFont(fontFamily, "B", 11)
			pdf.CellFormat(bodyW, 6, winAnsi(n.Text), "", 1, "L", false, 0, "")
		case KindListItem:
			pdf.SetX(marginLeft + listIndent)
			pdf.SetFont(fontFamily, "B", 11)
			pdf.MultiCell(bodyW-listIndent, 6, winAnsi(n.Text), "", "L", false)
			if n.Detail != "" {
				pdf.SetX(marginLeft + 2*listIndent)
				pdf.SetFont(fontFamily, "", 11)
				pdf.MultiCell(bodyW-2*listIndent, 6, winAnsi(n.Detail), "", "L", false)
			}
		case KindParagraph:
			pdf.SetFont(fontFamily, "", 11)
			pdf.MultiCell(bodyW, 6, winAnsi(n.Text), "", "L", false)
		case KindSpacer:
			pdf.Ln(n.Height)
		case KindSignature:
			pdf.SetFont(fontFamily, "", 10)
			pdf.CellFormat(signatureWidth, 6, signatureRule(), "", 1, "C", false, 0, "")
			pdf.CellFormat(signatureWidth, 6, winAnsi(n.Text), "", 1, "C", false, 0, "")
		case KindFooter:
			pdf.SetFont(fontFamily, "", 8)
			pdf.MultiCell(bodyW, 4, winAnsi(n.Text), "", "C", false)
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func drawLogo(pdf *fpdf.Fpdf, path string, pageW float64) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	y := pdf.GetY()
	pdf.ImageOptions(path, (pageW-logoWidth)/2, y, logoWidth, logoHeight, false,
		fpdf.ImageOptions{ReadDpi: false}, 0, "")
	if pdf.Err() {
		pdf.ClearError()
		return
	}
	pdf.SetY(y + logoHeight + 5)
}

// winAnsi converts s to the single-byte encoding used by the core fonts.
// Characters outside it become '?'.
func winAnsi(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return string(out)
}
