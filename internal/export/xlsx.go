package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"qrattend/internal/attendance"
)

const sheet = "Attendance"

var header = []any{"id", "student_name", "roll", "slot", "timestamp", "device_fingerprint", "ip", "user_agent"}

// WriteXLSX writes records as a single-sheet workbook, one row per record.
func WriteXLSX(w io.Writer, records []attendance.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{r.ID, r.StudentName, r.Roll, r.Slot, r.Timestamp.UTC().Format(time.RFC3339),
			r.DeviceFingerprint, r.IP, r.UserAgent}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

// Filename names the download for slot, or all slots when slot is empty.
func Filename(slot string, now time.Time) string {
	if slot == "" {
		slot = "all"
	}
	return fmt.Sprintf("attendance_%s_%s.xlsx", slot, now.UTC().Format("20060102_150405"))
}
