// Package auth holds the static admin allow-list consulted by every
// privileged operation.
package auth

import (
	"slotbox-bot/internal/apperr"
)

type Gate struct {
	admins map[int64]struct{}
}

func NewGate(adminIDs []int64) *Gate {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Gate{admins: admins}
}

func (g *Gate) IsAdmin(actorID int64) bool {
	_, ok := g.admins[actorID]
	return ok
}

// Require returns apperr.ErrUnauthorized unless actorID is an admin.
func (g *Gate) Require(actorID int64) error {
	if !g.IsAdmin(actorID) {
		return apperr.ErrUnauthorized
	}
	return nil
}
