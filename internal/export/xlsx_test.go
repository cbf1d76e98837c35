package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"qrattend/internal/attendance"
)

func TestWriteXLSX(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	records := []attendance.Record{
		{ID: "r2", StudentName: "Bea", Roll: "12", Slot: "CS101", Timestamp: at.Add(time.Minute), DeviceFingerprint: "fp2", IP: "10.0.0.2", UserAgent: "ua2"},
		{ID: "r1", StudentName: "Al", Roll: "07", Slot: "CS101", Timestamp: at, DeviceFingerprint: "fp1", IP: "10.0.0.1", UserAgent: "ua1"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, records))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheet}, f.GetSheetList())
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "student_name", rows[0][1])
	assert.Equal(t, []string{"r2", "Bea", "12", "CS101", "2026-03-02T09:31:00Z", "fp2", "10.0.0.2", "ua2"}, rows[1])
	assert.Equal(t, "07", rows[2][2])
}

func TestWriteXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFilename(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 5, 0, time.UTC)
	assert.Equal(t, "attendance_CS101_20260302_093005.xlsx", Filename("CS101", at))
	assert.Equal(t, "attendance_all_20260302_093005.xlsx", Filename("", at))
}
