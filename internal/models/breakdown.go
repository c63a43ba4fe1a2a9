// Package models defines the GORM models persisted by the breakdown bot.
package models

import "time"

// Breakdown is a single reported equipment failure. A breakdown is open while
// FixedAt is nil; closing it sets FixedAt (and FixedBy) exactly once.
type Breakdown struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	MachineName  string `gorm:"size:64;not null;index"`
	Reason       string `gorm:"type:text"`
	PhotoRef     string `gorm:"size:512;not null"`
	PhotoURL     string `gorm:"size:512"`
	ReporterID   string `gorm:"size:64"`
	ReporterName string `gorm:"size:128"`
	FixedBy      string `gorm:"size:128"`
	CreatedAt    time.Time
	FixedAt      *time.Time `gorm:"index"`
}

// IsOpen reports whether the breakdown has not been closed yet.
func (b *Breakdown) IsOpen() bool {
	return b.FixedAt == nil
}
