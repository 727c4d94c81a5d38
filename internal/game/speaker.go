package game

import (
	"slices"
	"sort"
)

// SelectSpeaker picks the speaker for the 0-indexed round. online must be in
// roster order.
func SelectSpeaker(round int, hostID string, online []*Player) (*Player, error) {
	if len(online) == 0 {
		return nil, ErrSpeakerNotFound.withMessage("no online players to pick a speaker from")
	}
	if round < 0 {
		round = 0
	}
	sorted := slices.Clone(online)
	sort.SliceStable(sorted, func(i, j int) bool {
		iHost, jHost := sorted[i].ID == hostID, sorted[j].ID == hostID
		if iHost != jHost {
			return iHost
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted[round%len(sorted)], nil
}
