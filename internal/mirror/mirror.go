// Package mirror defines the external copies of breakdown records kept
// outside the database: an archive for report photos and a spreadsheet that
// tracks every breakdown by record ID.
package mirror

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/zulandar/breakdown/internal/models"
)

// TimeFormat is the timestamp layout used in sheet cells and captions.
const TimeFormat = "2006-01-02 15:04:05"

// Sheet columns (1-based, as spreadsheet APIs count them).
const (
	ColumnID       = 1
	ColumnMachine  = 2
	ColumnReason   = 3
	ColumnPhoto    = 4
	ColumnOpenedAt = 5
	ColumnClosedAt = 6
)

// PhotoArchive stores a report photo and returns a shareable link to it.
type PhotoArchive interface {
	Archive(ctx context.Context, photoRef, machineName string) (string, error)
}

// Sheet is a row-oriented spreadsheet mirror of breakdown records.
type Sheet interface {
	AppendRow(ctx context.Context, values []string) error
	// FindRowByRecordID returns the 1-based row whose ID column holds id.
	FindRowByRecordID(ctx context.Context, id uint) (row int, found bool, err error)
	UpdateCell(ctx context.Context, row, col int, value string) error
}

// OpenRow returns the sheet row appended when a breakdown is reported.
func OpenRow(b *models.Breakdown, photoURL string) []string {
	return []string{
		strconv.FormatUint(uint64(b.ID), 10),
		b.MachineName,
		b.Reason,
		photoURL,
		FormatTime(b.CreatedAt),
	}
}

// FormatTime renders t in the local zone using TimeFormat.
func FormatTime(t time.Time) string {
	return t.Local().Format(TimeFormat)
}

// ArchiveName is the file name a photo is archived under.
func ArchiveName(machineName string, at time.Time) string {
	return fmt.Sprintf("%s_%s.jpg", machineName, at.Local().Format("20060102_150405"))
}
