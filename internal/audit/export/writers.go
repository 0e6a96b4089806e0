package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"chronicle/internal/audit/models"
	"chronicle/pkg/domain"
)

// recordWriter streams entries into one artifact format. Start is called
// once, Write per entry in batch order, Finish exactly once at the end.
type recordWriter interface {
	Start(w io.Writer) error
	Write(entry models.Entry) error
	Finish() error
}

func newRecordWriter(format domain.ExportFormat) (recordWriter, error) {
	switch format {
	case domain.FormatCSV:
		return &csvWriter{}, nil
	case domain.FormatJSON:
		return &jsonWriter{}, nil
	case domain.FormatPDF:
		return &pdfWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

var csvHeader = []string{
	"id", "timestamp", "actor_id", "actor_name", "action",
	"resource_type", "resource_id", "outcome", "severity",
	"ip_address", "correlation_id", "description",
}

type csvWriter struct {
	w *csv.Writer
}

func (c *csvWriter) Start(w io.Writer) error {
	c.w = csv.NewWriter(w)
	return c.w.Write(csvHeader)
}

func (c *csvWriter) Write(entry models.Entry) error {
	return c.w.Write([]string{
		entry.ID,
		entry.Timestamp.Format(time.RFC3339),
		entry.ActorID,
		entry.ActorName,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.Outcome.String(),
		entry.Severity.String(),
		entry.IPAddress,
		entry.CorrelationID,
		entry.Description,
	})
}

func (c *csvWriter) Finish() error {
	c.w.Flush()
	return c.w.Error()
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

// jsonWriter emits a JSON array without holding the full result set in
// memory; entries are encoded one at a time with separators written by
// hand.
type jsonWriter struct {
	w     io.Writer
	enc   *json.Encoder
	first bool
}

func (j *jsonWriter) Start(w io.Writer) error {
	j.w = w
	j.enc = json.NewEncoder(w)
	j.first = true
	_, err := io.WriteString(w, "[")
	return err
}

func (j *jsonWriter) Write(entry models.Entry) error {
	if !j.first {
		if _, err := io.WriteString(j.w, ","); err != nil {
			return err
		}
	}
	j.first = false
	return j.enc.Encode(entry)
}

func (j *jsonWriter) Finish() error {
	_, err := io.WriteString(j.w, "]")
	return err
}

// ---------------------------------------------------------------------------
// PDF
// ---------------------------------------------------------------------------

// pdfWriter renders a tabular report. fpdf accumulates pages in memory
// and serializes on Finish.
type pdfWriter struct {
	out  io.Writer
	pdf  *fpdf.Fpdf
	rows int
}

var pdfColumns = []struct {
	title string
	width float64
}{
	{"Timestamp", 38},
	{"Actor", 40},
	{"Action", 52},
	{"Resource", 46},
	{"Outcome", 22},
	{"Severity", 22},
	{"IP Address", 30},
}

func (p *pdfWriter) Start(w io.Writer) error {
	p.out = w
	p.pdf = fpdf.New("L", "mm", "A4", "")
	p.pdf.SetFont("Helvetica", "", 8)
	p.pdf.AddPage()
	p.header()
	return p.pdf.Error()
}

func (p *pdfWriter) header() {
	p.pdf.SetFont("Helvetica", "B", 8)
	for _, col := range pdfColumns {
		p.pdf.CellFormat(col.width, 7, col.title, "1", 0, "L", false, 0, "")
	}
	p.pdf.Ln(-1)
	p.pdf.SetFont("Helvetica", "", 8)
}

func (p *pdfWriter) Write(entry models.Entry) error {
	if p.rows > 0 && p.rows%30 == 0 {
		p.pdf.AddPage()
		p.header()
	}
	p.rows++

	resource := entry.ResourceType
	if entry.ResourceID != "" {
		resource += " " + entry.ResourceID
	}
	cells := []string{
		entry.Timestamp.Format("2006-01-02 15:04:05"),
		entry.ActorName,
		entry.Action,
		resource,
		entry.Outcome.String(),
		entry.Severity.String(),
		entry.IPAddress,
	}
	for i, col := range pdfColumns {
		p.pdf.CellFormat(col.width, 6, truncate(cells[i], 40), "1", 0, "L", false, 0, "")
	}
	p.pdf.Ln(-1)
	return p.pdf.Error()
}

func (p *pdfWriter) Finish() error {
	p.pdf.SetFont("Helvetica", "I", 7)
	p.pdf.Ln(4)
	p.pdf.CellFormat(0, 5, strconv.Itoa(p.rows)+" records", "", 0, "L", false, 0, "")
	return p.pdf.Output(p.out)
}

// truncate shortens s to max runes. Cutting on runes keeps multi-byte
// characters intact in the cell text.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
