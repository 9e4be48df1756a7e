package journal

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/mattn/go-runewidth"
	"gopkg.in/yaml.v3"

	"github.com/pashagolub/tierelo/pkg/tier"
)

// ErrUnsupportedFormat is returned for an unknown export format
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ExportFormat represents the format for exporting results
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
	FormatText ExportFormat = "text"
	FormatYAML ExportFormat = "yaml"
)

// ParseExportFormat maps a user supplied name onto an ExportFormat
func ParseExportFormat(name string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatCSV, FormatJSON, FormatText, FormatYAML:
		return f, nil
	case "txt":
		return FormatText, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// ExportOptions configures export behavior
type ExportOptions struct {
	Format       ExportFormat `json:"format"`
	IncludeStats bool         `json:"include_stats"` // confidence factors and summary statistics
}

// ExportTemplate defines custom export formatting
type ExportTemplate struct {
	Name         string `json:"name" yaml:"name"`
	HeaderFormat string `json:"header" yaml:"header"`
	RowFormat    string `json:"row" yaml:"row"`
	FooterFormat string `json:"footer" yaml:"footer"`
}

// LoadTemplate reads an ExportTemplate from a YAML (or JSON) file. A
// template without a row format renders nothing and is rejected.
func LoadTemplate(path string) (ExportTemplate, error) {
	var template ExportTemplate
	content, err := os.ReadFile(path)
	if err != nil {
		return template, fmt.Errorf("failed to read template: %w", err)
	}
	if err := yaml.Unmarshal(content, &template); err != nil {
		return template, fmt.Errorf("failed to parse template %s: %w", path, err)
	}
	if strings.TrimSpace(template.RowFormat) == "" {
		return template, fmt.Errorf("template %s has no row format", path)
	}
	return template, nil
}

// Report is everything a tier export describes
type Report struct {
	SessionID   string            `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	GeneratedAt time.Time         `json:"generated_at" yaml:"generated_at"`
	Comparisons int               `json:"comparisons" yaml:"comparisons"`
	Tiers       []tier.Definition `json:"tiers" yaml:"tiers"`
	Placements  []tier.Confidence `json:"placements" yaml:"placements"` // rating order
}

// Statistics summarizes a report
type Statistics struct {
	TotalItems        int     `json:"total_items" yaml:"total_items"`
	TotalTiers        int     `json:"total_tiers" yaml:"total_tiers"`
	AverageRating     float64 `json:"average_rating" yaml:"average_rating"`
	RatingRange       float64 `json:"rating_range" yaml:"rating_range"`
	StandardDeviation float64 `json:"standard_deviation" yaml:"standard_deviation"`
	AverageConfidence float64 `json:"average_confidence" yaml:"average_confidence"`
	Ambiguous         int     `json:"ambiguous" yaml:"ambiguous"`
}

// TierExport is the document written by ExportJSON and ExportYAML
type TierExport struct {
	Report     `yaml:",inline"`
	Statistics *Statistics `json:"statistics,omitempty" yaml:"statistics,omitempty"`
}

func newTierExport(report Report, options ExportOptions) TierExport {
	export := TierExport{Report: report}
	if options.IncludeStats {
		export.Statistics = CalculateStatistics(report)
	}
	return export
}

// Exporter renders tier reports
type Exporter struct{}

// NewExporter creates a new exporter instance
func NewExporter() *Exporter {
	return &Exporter{}
}

// Export writes report to writer in the requested format
func (e *Exporter) Export(report Report, writer io.Writer, options ExportOptions) error {
	switch options.Format {
	case FormatCSV:
		return e.ExportCSV(report, writer, options)
	case FormatJSON:
		return e.ExportJSON(report, writer, options)
	case FormatYAML:
		return e.ExportYAML(report, writer, options)
	case FormatText, "":
		return e.ExportTierReport(report, writer, options)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, options.Format)
	}
}

// ExportToFile writes report to filePath through a temporary file that
// replaces the target only once the export succeeded
func (e *Exporter) ExportToFile(report Report, filePath string, options ExportOptions) (err error) {
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	tempFile := filePath + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(tempFile)
		}
	}()

	if err = e.Export(report, file, options); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if err = file.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err = os.Rename(tempFile, filePath); err != nil {
		return fmt.Errorf("failed to replace target file: %w", err)
	}
	return nil
}

// ExportCSV writes one row per item in rating order
func (e *Exporter) ExportCSV(report Report, writer io.Writer, options ExportOptions) error {
	csvWriter := csv.NewWriter(writer)

	headers := []string{"rank", "id", "rating", "tier", "confidence", "alternative_tier"}
	if options.IncludeStats {
		headers = append(headers, "data_points", "consistency", "proximity", "separation")
	}
	if err := csvWriter.Write(headers); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, p := range report.Placements {
		record := []string{
			strconv.Itoa(p.Position + 1),
			p.ItemID,
			formatFloat(p.Rating),
			p.Tier,
			strconv.Itoa(p.Confidence),
			p.AlternativeTier,
		}
		if options.IncludeStats {
			record = append(record,
				strconv.Itoa(p.Factors.DataPoints),
				formatFloat(p.Factors.Consistency),
				formatFloat(p.Factors.Proximity),
				formatFloat(p.Factors.Separation))
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record for item %s: %w", p.ItemID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// ExportJSON writes the report as an indented JSON document
func (e *Exporter) ExportJSON(report Report, writer io.Writer, options ExportOptions) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(newTierExport(report, options)); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportYAML writes the same document as ExportJSON in YAML
func (e *Exporter) ExportYAML(report Report, writer io.Writer, options ExportOptions) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	if err := encoder.Encode(newTierExport(report, options)); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return encoder.Close()
}

// ExportTierReport writes a human readable report grouped by tier
func (e *Exporter) ExportTierReport(report Report, writer io.Writer, options ExportOptions) error {
	idWidth := runewidth.StringWidth("Item")
	for _, p := range report.Placements {
		idWidth = max(idWidth, runewidth.StringWidth(p.ItemID))
	}
	idWidth = min(idWidth, 40)

	var b strings.Builder
	b.WriteString("Tier Report\n")
	b.WriteString("===========\n\n")
	if report.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", report.SessionID)
	}
	fmt.Fprintf(&b, "Generated: %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Items: %d | Comparisons: %d | Tiers: %d\n\n",
		len(report.Placements), report.Comparisons, len(report.Tiers))

	if options.IncludeStats {
		if stats := CalculateStatistics(report); stats != nil {
			b.WriteString("Statistics\n")
			b.WriteString("----------\n")
			fmt.Fprintf(&b, "Average Rating: %.1f\n", stats.AverageRating)
			fmt.Fprintf(&b, "Rating Range: %.1f\n", stats.RatingRange)
			fmt.Fprintf(&b, "Standard Deviation: %.1f\n", stats.StandardDeviation)
			fmt.Fprintf(&b, "Average Confidence: %.0f%%\n", stats.AverageConfidence)
			fmt.Fprintf(&b, "Ambiguous Placements: %d\n\n", stats.Ambiguous)
		}
	}

	for _, def := range report.Tiers {
		name := def.DisplayName
		if name == "" {
			name = def.Label
		}
		fmt.Fprintf(&b, "%s (%d)\n", name, def.Size())
		b.WriteString(strings.Repeat("-", runewidth.StringWidth(name)+len(strconv.Itoa(def.Size()))+3))
		b.WriteString("\n")

		for _, p := range report.Placements {
			if !def.Contains(p.Position) {
				continue
			}
			id := runewidth.FillRight(runewidth.Truncate(p.ItemID, idWidth, "…"), idWidth)
			fmt.Fprintf(&b, "%3d. %s  %7.1f  %3d%%", p.Position+1, id, p.Rating, p.Confidence)
			if p.HasAlternative() {
				fmt.Fprintf(&b, "  ~ %s (%d%%)", p.AlternativeTier, p.AlternativeConfidence)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(writer, b.String())
	return err
}

// ExportWithTemplate renders the report through user supplied templates. The
// header and footer see the Report, each row sees one tier.Confidence.
func (e *Exporter) ExportWithTemplate(report Report, writer io.Writer, template ExportTemplate) error {
	render := func(name, format string, data any) error {
		if format == "" {
			return nil
		}
		tmpl, err := texttemplate.New(name).Parse(format)
		if err != nil {
			return fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		if err := tmpl.Execute(writer, data); err != nil {
			return fmt.Errorf("failed to execute %s template: %w", name, err)
		}
		return nil
	}

	if err := render("header", template.HeaderFormat, report); err != nil {
		return err
	}
	for _, p := range report.Placements {
		if err := render("row", template.RowFormat, p); err != nil {
			return fmt.Errorf("item %s: %w", p.ItemID, err)
		}
	}
	return render("footer", template.FooterFormat, report)
}

// CalculateStatistics computes summary statistics, nil for an empty report
func CalculateStatistics(report Report) *Statistics {
	if len(report.Placements) == 0 {
		return nil
	}

	var sum, confidence float64
	lowest, highest := math.Inf(1), math.Inf(-1)
	ambiguous := 0
	for _, p := range report.Placements {
		sum += p.Rating
		confidence += float64(p.Confidence)
		lowest = min(lowest, p.Rating)
		highest = max(highest, p.Rating)
		if p.HasAlternative() {
			ambiguous++
		}
	}

	n := float64(len(report.Placements))
	average := sum / n
	var variance float64
	for _, p := range report.Placements {
		diff := p.Rating - average
		variance += diff * diff
	}

	return &Statistics{
		TotalItems:        len(report.Placements),
		TotalTiers:        len(report.Tiers),
		AverageRating:     average,
		RatingRange:       highest - lowest,
		StandardDeviation: math.Sqrt(variance / n),
		AverageConfidence: confidence / n,
		Ambiguous:         ambiguous,
	}
}

// formatFloat formats a float with one decimal
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}
