package checker

import "github.com/google/uuid"

// NewBootID generates a fresh boot-session identifier. Stamped onto adopted
// DatastoreCheckerItems as ChosenBy so the loader can distinguish "already
// adopted this boot" from "unadopted, pick me up" across restarts.
func NewBootID() string {
	return uuid.New().String()
}
