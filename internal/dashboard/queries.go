package dashboard

import (
	"sort"
	"time"

	"github.com/zulandar/breakdown/internal/models"
	"gorm.io/gorm"
)

// BreakdownRow is the JSON shape of a breakdown record.
type BreakdownRow struct {
	ID          uint       `json:"id"`
	MachineName string     `json:"machine"`
	Reason      string     `json:"reason"`
	PhotoURL    string     `json:"photo_url,omitempty"`
	Reporter    string     `json:"reporter,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
	FixedAt     *time.Time `json:"fixed_at,omitempty"`
	FixedBy     string     `json:"fixed_by,omitempty"`
	Open        bool       `json:"open"`
}

func toRow(b *models.Breakdown) BreakdownRow {
	return BreakdownRow{
		ID:          b.ID,
		MachineName: b.MachineName,
		Reason:      b.Reason,
		PhotoURL:    b.PhotoURL,
		Reporter:    b.ReporterName,
		OpenedAt:    b.CreatedAt,
		FixedAt:     b.FixedAt,
		FixedBy:     b.FixedBy,
		Open:        b.IsOpen(),
	}
}

// MachineCount holds breakdown counts for a single machine.
type MachineCount struct {
	Machine string `json:"machine"`
	Open    int    `json:"open"`
	Closed  int    `json:"closed"`
	Total   int    `json:"total"`
}

// MachineSummary returns per-machine breakdown counts, busiest first.
func MachineSummary(db *gorm.DB) ([]MachineCount, error) {
	type row struct {
		MachineName string
		Open        bool
		Count       int
	}
	var rows []row
	if err := db.Model(&models.Breakdown{}).
		Select("machine_name, fixed_at IS NULL as open, count(*) as count").
		Group("machine_name, fixed_at IS NULL").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	byMachine := make(map[string]*MachineCount)
	for _, r := range rows {
		mc, ok := byMachine[r.MachineName]
		if !ok {
			mc = &MachineCount{Machine: r.MachineName}
			byMachine[r.MachineName] = mc
		}
		if r.Open {
			mc.Open += r.Count
		} else {
			mc.Closed += r.Count
		}
		mc.Total += r.Count
	}

	result := make([]MachineCount, 0, len(byMachine))
	for _, mc := range byMachine {
		result = append(result, *mc)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Open != result[j].Open {
			return result[i].Open > result[j].Open
		}
		return result[i].Machine < result[j].Machine
	})
	return result, nil
}

// breakdownsSince returns records with an id above lastID, oldest first.
func breakdownsSince(db *gorm.DB, lastID uint) ([]models.Breakdown, error) {
	var out []models.Breakdown
	err := db.Where("id > ?", lastID).Order("id ASC").Find(&out).Error
	return out, err
}

// closedSince returns records closed after t, oldest close first.
func closedSince(db *gorm.DB, t time.Time) ([]models.Breakdown, error) {
	var out []models.Breakdown
	err := db.Where("fixed_at IS NOT NULL AND fixed_at > ?", t).Order("fixed_at ASC").Find(&out).Error
	return out, err
}

// maxBreakdownID returns the highest record id, 0 when empty.
func maxBreakdownID(db *gorm.DB) uint {
	var last models.Breakdown
	if err := db.Order("id DESC").Limit(1).First(&last).Error; err != nil {
		return 0
	}
	return last.ID
}
