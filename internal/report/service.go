// Package report serves the teacher review dashboards over the submission
// ledger: listing graded attempts and exporting them as a spreadsheet.
package report

import (
	"bytes"
	"context"
	"fmt"

	"tvcportal/internal/ledger"

	"github.com/xuri/excelize/v2"
)

type Service struct {
	ledger ledger.Store
}

func NewService(store ledger.Store) *Service {
	return &Service{ledger: store}
}

func (s *Service) ListSubmissions(ctx context.Context, materialIDs []int64) ([]ledger.Record, error) {
	return s.ledger.ListForMaterials(ctx, materialIDs)
}

// ExportSubmissionsExcel renders the graded attempts for the given materials
// as an XLSX workbook.
func (s *Service) ExportSubmissionsExcel(ctx context.Context, materialIDs []int64) ([]byte, error) {
	items, err := s.ledger.ListForMaterials(ctx, materialIDs)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"attempt_id", "user_id", "material_id", "score", "total_questions", "weighted_average", "time_spent_seconds", "submitted_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		row := i + 2
		avg := ""
		if it.WeightedAverage != nil {
			avg = fmt.Sprintf("%.2f", *it.WeightedAverage)
		}
		values := []any{
			it.AttemptID,
			it.UserID,
			it.MaterialID,
			it.Score,
			it.TotalQuestions,
			avg,
			it.TimeSpentSeconds,
			it.SubmittedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "H", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
