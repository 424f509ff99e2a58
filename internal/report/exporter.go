// Package report renders approval histories as Excel workbooks for the
// agency's operations staff.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/happy-code-egg/ruidao-sub004/internal/workflow/model"
)

const sheetName = "Approval History"

var columnHeaders = []string{
	"Node #", "Node Name", "Action", "Assignees", "Processor",
	"Comment", "Opened At", "Processed At", "Time Limit (h)", "Overdue",
}

// BuildWorkbook renders one instance's node-visit history as a workbook. Open
// rows past their node's time limit are flagged overdue relative to now.
func BuildWorkbook(detail *model.InstanceDetailDTO, now time.Time) (*excelize.File, error) {
	if detail == nil {
		return nil, fmt.Errorf("instance detail cannot be nil")
	}

	f := excelize.NewFile()
	sheet, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(sheet)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	instance := detail.Instance
	summary := [][]any{
		{"Instance ID", instance.ID.String()},
		{"Business", fmt.Sprintf("%s / %s", instance.BusinessType, instance.BusinessID)},
		{"Title", instance.BusinessTitle},
		{"Status", string(instance.Status)},
		{"Created By", instance.CreatedBy},
		{"Created At", instance.CreatedAt.Format(time.RFC3339)},
	}
	for i, row := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write summary row: %w", err)
		}
	}

	headerRow := len(summary) + 2
	cell, _ := excelize.CoordinatesToCellName(1, headerRow)
	if err := f.SetSheetRow(sheetName, cell, &columnHeaders); err != nil {
		return nil, fmt.Errorf("failed to write header row: %w", err)
	}

	for i, p := range detail.Processes {
		row := processRow(instance, p, now)
		cell, _ := excelize.CoordinatesToCellName(1, headerRow+1+i)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write process row: %w", err)
		}
	}

	return f, nil
}

// Export writes the workbook for one instance to w, typically an HTTP
// response body or a file.
func Export(detail *model.InstanceDetailDTO, now time.Time, w io.Writer) error {
	f, err := BuildWorkbook(detail, now)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func processRow(instance model.WorkflowInstance, p model.WorkflowProcess, now time.Time) []any {
	processor := ""
	if p.ProcessorID != nil {
		processor = *p.ProcessorID
	}
	processedAt := ""
	if p.ProcessedAt != nil {
		processedAt = p.ProcessedAt.Format(time.RFC3339)
	}

	timeLimit := 0
	overdue := "no"
	if p.NodeIndex >= 0 && p.NodeIndex < len(instance.Nodes) {
		node := instance.Nodes[p.NodeIndex]
		timeLimit = node.TimeLimitHours
		if p.Overdue(node, now) {
			overdue = "yes"
		}
	}

	return []any{
		p.NodeIndex,
		p.NodeName,
		string(p.Action),
		assigneeCell(p.Assignees),
		processor,
		p.Comment,
		p.CreatedAt.Format(time.RFC3339),
		processedAt,
		timeLimit,
		overdue,
	}
}

func assigneeCell(assignees model.StringList) string {
	if len(assignees) == 0 {
		return "(anyone)"
	}
	out := ""
	for i, a := range assignees {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}
