package store

import "qms/queue-engine/internal/models"

var transitionMap = map[string][]string{
	"call":     {models.StatusWaiting},
	"complete": {models.StatusServing},
	"cancel":   {models.StatusWaiting},
	"reorder":  {models.StatusWaiting},
	"move":     {models.StatusWaiting},
	"claim":    {models.StatusWaiting},
	"skip":     {models.StatusServing},
	"rejoin":   {models.StatusSnoozed},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
