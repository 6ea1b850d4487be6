package session

import "fmt"

// State is a PeerSession lifecycle state. States only move forward.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateJoined
	StateRoleAssigned
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateRoleAssigned:
		return "role-assigned"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Role is who initiates negotiation. It is fixed once assigned.
type Role int

const (
	RoleUnassigned Role = iota
	RoleOfferer
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	default:
		return "unassigned"
	}
}
