// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package token

import (
	"context"

	"github.com/useqring/qring/internal/config"
	"github.com/useqring/qring/internal/models"
)

// StaticDirectory serves door descriptors from configuration. Suitable
// for standalone deployments; larger installations plug in their own
// Directory backed by the platform's property service.
type StaticDirectory struct {
	byProperty map[string]map[string]models.DoorOption
}

// NewStaticDirectory indexes the configured doors by property and door ID.
func NewStaticDirectory(cfg config.DirectoryConfig) *StaticDirectory {
	byProperty := make(map[string]map[string]models.DoorOption)
	for _, entry := range cfg.Doors {
		doors, ok := byProperty[entry.PropertyID]
		if !ok {
			doors = make(map[string]models.DoorOption)
			byProperty[entry.PropertyID] = doors
		}
		doors[entry.DoorID] = models.DoorOption{
			DoorID:        entry.DoorID,
			DoorName:      entry.DoorName,
			HomeID:        entry.HomeID,
			HomeName:      entry.HomeName,
			HomeownerID:   entry.HomeownerID,
			HomeownerName: entry.HomeownerName,
		}
	}
	return &StaticDirectory{byProperty: byProperty}
}

// Doors returns descriptors for the requested doors. Unknown doors get
// a bare entry so a stale directory never hides a scoped door.
func (d *StaticDirectory) Doors(_ context.Context, propertyID string, doorIDs []string) ([]models.DoorOption, error) {
	known := d.byProperty[propertyID]
	out := make([]models.DoorOption, 0, len(doorIDs))
	for _, id := range doorIDs {
		if opt, ok := known[id]; ok {
			out = append(out, opt)
			continue
		}
		out = append(out, models.DoorOption{DoorID: id})
	}
	return out, nil
}

// Homeowner returns the homeowner responsible for a door, or "".
func (d *StaticDirectory) Homeowner(propertyID, doorID string) string {
	if opt, ok := d.byProperty[propertyID][doorID]; ok {
		return opt.HomeownerID
	}
	return ""
}
