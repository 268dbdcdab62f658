package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateDocument carries the printable fields of a completion certificate.
type CertificateDocument struct {
	Number      string
	StudentName string
	CourseTitle string
	IssuerName  string
	IssuedAt    time.Time
	Fingerprint string
}

// CertificateRenderer renders completion certificates as landscape A4 PDFs.
// Output is byte-stable for identical documents: the PDF creation and modification
// dates are pinned to IssuedAt and catalog entries are sorted.
type CertificateRenderer struct{}

// NewCertificateRenderer constructs a certificate renderer.
func NewCertificateRenderer() *CertificateRenderer {
	return &CertificateRenderer{}
}

// Render produces the PDF bytes for the given certificate.
func (r *CertificateRenderer) Render(doc CertificateDocument) ([]byte, error) {
	if doc.StudentName == "" || doc.CourseTitle == "" {
		return nil, fmt.Errorf("certificate requires student name and course title")
	}
	if doc.IssuedAt.IsZero() {
		return nil, fmt.Errorf("certificate requires an issue date")
	}
	issued := doc.IssuedAt.UTC()

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetCreationDate(issued)
	pdf.SetModificationDate(issued)
	pdf.SetCatalogSort(true)
	pdf.SetTitle("Certificate of Completion", true)
	pdf.SetAuthor(doc.IssuerName, true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, 277, 190, "D")
	pdf.SetLineWidth(0.3)
	pdf.Rect(14, 14, 269, 182, "D")

	pdf.SetY(40)
	pdf.SetFont("Helvetica", "B", 30)
	pdf.CellFormat(0, 14, tr("Certificate of Completion"), "", 1, "C", false, 0, "")

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(0, 8, tr("This certifies that"), "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 24)
	pdf.CellFormat(0, 12, tr(doc.StudentName), "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(0, 8, tr("has successfully completed the course"), "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 20)
	pdf.MultiCell(0, 10, tr(doc.CourseTitle), "", "C", false)

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 7, tr("Issued on "+issued.Format("January 2, 2006")), "", 1, "C", false, 0, "")
	if doc.IssuerName != "" {
		pdf.CellFormat(0, 7, tr(doc.IssuerName), "", 1, "C", false, 0, "")
	}

	pdf.SetY(180)
	pdf.SetFont("Courier", "", 8)
	pdf.CellFormat(0, 4, "Certificate No. "+doc.Number, "", 1, "C", false, 0, "")
	if doc.Fingerprint != "" {
		pdf.CellFormat(0, 4, "Fingerprint "+doc.Fingerprint, "", 1, "C", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
