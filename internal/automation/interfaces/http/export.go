package http

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"powerstation-cloud/internal/automation/application"
	automation "powerstation-cloud/internal/automation/domain"
	"powerstation-cloud/internal/observability/metrics"
)

const exportLimit = 10000

// ExportHandler serves execution log exports.
type ExportHandler struct {
	service *application.RuleService
	clock   func() time.Time
}

// NewExportHandler constructs an export handler.
func NewExportHandler(service *application.RuleService) (*ExportHandler, error) {
	if service == nil {
		return nil, errors.New("export handler: nil service")
	}
	return &ExportHandler{service: service, clock: time.Now}, nil
}

// ServeHTTP handles /api/v1/exports/executions.{csv,xlsx,pdf}.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var format string
	switch r.URL.Path {
	case "/api/v1/exports/executions.csv":
		format = "csv"
	case "/api/v1/exports/executions.xlsx":
		format = "xlsx"
	case "/api/v1/exports/executions.pdf":
		format = "pdf"
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	filter, err := parseLogFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if filter.Limit == 0 || filter.Limit > exportLimit {
		filter.Limit = exportLimit
	}

	started := h.clock()
	entries, err := h.service.ListExecutions(r.Context(), filter)
	if err != nil {
		metrics.ObserveLogExport(format, false, h.clock().Sub(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var payload []byte
	switch format {
	case "csv":
		payload, err = buildExecutionCSV(entries)
	case "xlsx":
		payload, err = buildExecutionXLSX(entries)
	case "pdf":
		payload, err = buildExecutionPDF(entries, started)
	}
	if err != nil {
		metrics.ObserveLogExport(format, false, h.clock().Sub(started))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveLogExport(format, true, h.clock().Sub(started))

	filename := "executions." + format
	w.Header().Set("Content-Type", exportContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	_, _ = w.Write(payload)
}

func exportContentType(format string) string {
	switch format {
	case "csv":
		return "text/csv"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func buildExecutionCSV(entries []automation.ExecutionLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"timestamp", "rule_id", "rule_name", "device_id", "matched_conditions", "success", "actions", "error", "execution_ms"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		record := []string{
			entry.Timestamp.Format(time.RFC3339),
			entry.RuleID,
			entry.RuleName,
			entry.DeviceID,
			strings.Join(entry.Matched, "; "),
			strconv.FormatBool(entry.Success),
			strconv.Itoa(len(entry.Actions)),
			entry.ErrorMessage,
			strconv.FormatInt(entry.ExecutionTimeMs, 10),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildExecutionXLSX(entries []automation.ExecutionLogEntry) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "executions"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Timestamp", "Rule ID", "Rule Name", "Device", "Matched Conditions", "Success", "Actions", "Error", "Duration (ms)"}
	for i, title := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, title)
	}
	for i, entry := range entries {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), entry.Timestamp.Format(time.RFC3339))
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), entry.RuleID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), entry.RuleName)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), entry.DeviceID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), strings.Join(entry.Matched, "; "))
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), entry.Success)
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", row), len(entry.Actions))
		_ = f.SetCellValue(sheet, fmt.Sprintf("H%d", row), entry.ErrorMessage)
		_ = f.SetCellValue(sheet, fmt.Sprintf("I%d", row), entry.ExecutionTimeMs)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildExecutionPDF renders a summary report, not a full table dump.
func buildExecutionPDF(entries []automation.ExecutionLogEntry, generatedAt time.Time) ([]byte, error) {
	failed := 0
	perRule := make(map[string]int)
	for _, entry := range entries {
		if !entry.Success {
			failed++
		}
		perRule[entry.RuleName]++
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Automation Execution Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Entries: %d", len(entries)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Failed: %d", failed))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(100, 6, "Rule", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 6, "Executions", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, entry := range entries {
		count, ok := perRule[entry.RuleName]
		if !ok {
			continue
		}
		delete(perRule, entry.RuleName)
		pdf.CellFormat(100, 6, entry.RuleName, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, strconv.Itoa(count), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
