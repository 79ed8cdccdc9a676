package store

import "github.com/Eyob-smax/AfriQueue-sub000/internal/models"

const (
	ActionAdvance = "advance"
	ActionCancel  = "cancel"
)

var transitionMap = map[string][]string{
	ActionAdvance: {models.StatusPending, models.StatusConfirmed},
	ActionCancel:  {models.StatusPending, models.StatusConfirmed},
}

var transitionTarget = map[string]string{
	ActionAdvance: models.StatusCompleted,
	ActionCancel:  models.StatusCancelled,
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

func AllowedFrom(action string) []string {
	return transitionMap[action]
}

func TargetStatus(action string) (string, bool) {
	status, ok := transitionTarget[action]
	return status, ok
}
