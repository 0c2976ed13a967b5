package http

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"leakwatch/internal/observability/metrics"
	"leakwatch/internal/telemetry/application"
	telemetry "leakwatch/internal/telemetry/domain"
)

// BuildHistoryPDF renders a reading history table.
func BuildHistoryPDF(rows []telemetry.Observation, generated time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Pipeline Reading History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generated.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Readings: %d", len(rows)))
	pdf.Ln(8)

	headers := []string{"ID", "Time (UTC)", "S1", "S2", "S3", "Status", "Burst Type", "Location", "Conf. %"}
	widths := []float64{16, 44, 18, 18, 18, 22, 46, 50, 20}
	pdf.SetFont("Arial", "B", 9)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 6, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range rows {
		cells := []string{
			fmt.Sprintf("%d", row.ID),
			row.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%d", row.SensorValues[0]),
			fmt.Sprintf("%d", row.SensorValues[1]),
			fmt.Sprintf("%d", row.SensorValues[2]),
			string(telemetry.DeriveStatus(&row)),
			string(row.BurstType),
			location(row),
			fmt.Sprintf("%.1f", row.Confidence),
		}
		for i, cell := range cells {
			align := "R"
			if i == 1 || i >= 5 && i <= 7 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 6, cell, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildHistoryXLSX renders a reading history workbook with a summary sheet.
func BuildHistoryXLSX(rows []telemetry.Observation, generated time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	readingsSheet := "readings"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(readingsSheet); err != nil {
		return nil, err
	}

	summary := application.Summarize(rows)
	_ = f.SetCellValue(summarySheet, "A1", "Pipeline Reading History")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", generated.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Readings")
	_ = f.SetCellValue(summarySheet, "B4", summary.Total)
	_ = f.SetCellValue(summarySheet, "A5", "Average")
	_ = f.SetCellValue(summarySheet, "B5", summary.Average)
	_ = f.SetCellValue(summarySheet, "A6", "Peak")
	_ = f.SetCellValue(summarySheet, "B6", summary.Peak)
	_ = f.SetCellValue(summarySheet, "A7", "Alert Rate %")
	_ = f.SetCellValue(summarySheet, "B7", summary.AlertRate)
	_ = f.SetCellValue(summarySheet, "A8", "Normal")
	_ = f.SetCellValue(summarySheet, "B8", summary.Distribution.Normal)
	_ = f.SetCellValue(summarySheet, "A9", "Leak")
	_ = f.SetCellValue(summarySheet, "B9", summary.Distribution.Leak)
	_ = f.SetCellValue(summarySheet, "A10", "Burst")
	_ = f.SetCellValue(summarySheet, "B10", summary.Distribution.Burst)

	headers := []string{"ID", "Timestamp", "Sensor 1", "Sensor 2", "Sensor 3", "Status", "Burst Type",
		"Burst Intensity", "Leak Location", "Confidence", "Correlation", "Stability", "Dismissed"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(readingsSheet, cell, header)
	}
	for i, row := range rows {
		values := []any{
			row.ID,
			row.Timestamp.UTC().Format(isoLayout),
			row.SensorValues[0],
			row.SensorValues[1],
			row.SensorValues[2],
			string(telemetry.DeriveStatus(&row)),
			string(row.BurstType),
			row.BurstIntensity,
			location(row),
			row.Confidence,
			row.CorrelationScore,
			row.StabilityScore,
			row.BurstDismissed,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(readingsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func location(row telemetry.Observation) string {
	if row.LeakLocation == nil {
		return ""
	}
	return *row.LeakLocation
}

func (h *Handler) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "pdf", "application/pdf", BuildHistoryPDF)
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", BuildHistoryXLSX)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, format, contentType string, build func([]telemetry.Observation, time.Time) ([]byte, error)) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveHistoryExport(format, result, time.Since(start))
	}()

	limit, err := parseLimit(r, application.HistoryLimit, application.MaxExportLimit)
	if err != nil {
		result = metrics.ResultInvalid
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.history.Window(r.Context(), limit)
	if err != nil {
		result = metrics.ResultError
		h.logger.Printf("telemetry http: export query error: %v", err)
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	data, err := build(rows, start)
	if err != nil {
		result = metrics.ResultError
		h.logger.Printf("telemetry http: export %s error: %v", format, err)
		http.Error(w, "export "+format+" error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="history-%s.%s"`, start.UTC().Format("20060102-150405"), format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
