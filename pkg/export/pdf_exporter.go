package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// ReviewReport carries everything needed to render a thesis review summary.
type ReviewReport struct {
	Title       string
	StudentName string
	AdvisorName string
	Status      string
	Version     int
	SubmittedAt time.Time
	History     []ReportHistoryRow
	Feedback    []ReportFeedbackRow
}

// ReportHistoryRow is one audit entry in the rendered history table.
type ReportHistoryRow struct {
	From      string
	To        string
	ActorName string
	Role      string
	Note      string
	At        time.Time
}

// ReportFeedbackRow is one advisor feedback block.
type ReportFeedbackRow struct {
	AdvisorName     string
	State           string
	Rating          string
	OverallComments string
	Recommendations string
	At              time.Time
}

// PDFExporter renders review reports as PDF documents.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates the review summary document.
func (e *PDFExporter) Render(report ReviewReport) ([]byte, error) {
	if report.Title == "" {
		return nil, fmt.Errorf("pdf requires a thesis title")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, "THESIS REVIEW SUMMARY", "", 1, "C", false, 0, "")
	pdf.Ln(3)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 7, report.Title, "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Student: %s", report.StudentName), "", 1, "L", false, 0, "")
	advisor := report.AdvisorName
	if advisor == "" {
		advisor = "(not assigned)"
	}
	pdf.CellFormat(0, 6, fmt.Sprintf("Advisor: %s", advisor), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Status: %s (version %d)", report.Status, report.Version), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Submitted: %s", report.SubmittedAt.Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")
	pdf.Ln(5)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 8, "Status history", "", 1, "L", false, 0, "")
	headers := []string{"From", "To", "Actor", "Role", "Date", "Note"}
	widths := []float64{30, 30, 35, 22, 28, 45}
	pdf.SetFont("Arial", "B", 9)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 7, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, row := range report.History {
		cells := []string{row.From, row.To, row.ActorName, row.Role, row.At.Format("2006-01-02"), row.Note}
		for i, cell := range cells {
			pdf.CellFormat(widths[i], 6, cell, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(5)

	if len(report.Feedback) > 0 {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 8, "Advisor feedback", "", 1, "L", false, 0, "")
		for _, fb := range report.Feedback {
			pdf.SetFont("Arial", "B", 9)
			pdf.CellFormat(0, 6, fmt.Sprintf("%s - %s (%s)", fb.AdvisorName, fb.State, fb.At.Format("2006-01-02")), "", 1, "L", false, 0, "")
			pdf.SetFont("Arial", "", 9)
			if fb.Rating != "" {
				pdf.CellFormat(0, 5, fmt.Sprintf("Rating: %s/5", fb.Rating), "", 1, "L", false, 0, "")
			}
			pdf.MultiCell(0, 5, fb.OverallComments, "", "L", false)
			if fb.Recommendations != "" {
				pdf.SetFont("Arial", "I", 9)
				pdf.MultiCell(0, 5, "Recommendations: "+fb.Recommendations, "", "L", false)
			}
			pdf.Ln(2)
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
