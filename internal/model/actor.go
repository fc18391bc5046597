package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Role is the explicit role tag carried by every workflow action.
type Role string

const (
	RoleNurse            Role = "NURSE"
	RoleDoctor           Role = "DOCTOR"
	RoleAnesthesiologist Role = "ANESTHESIOLOGIST"
	RoleSystem           Role = "SYSTEM"
)

func (r Role) Valid() bool {
	switch r {
	case RoleNurse, RoleDoctor, RoleAnesthesiologist, RoleSystem:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Actor identifies who performed an action.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role Role      `json:"role"`
}

// SystemActor is used by sweeps and automatic transitions.
func SystemActor() Actor {
	return Actor{ID: uuid.Nil, Name: "system", Role: RoleSystem}
}

func (a Actor) String() string {
	return fmt.Sprintf("%s(%s)", a.Role, a.ID)
}
