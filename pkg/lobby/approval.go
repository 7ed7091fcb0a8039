package lobby

import "github.com/cbodonnell/lobbysync/pkg/messages"

// Approval is the outcome of a connection approval check.
type Approval struct {
	Approved bool
	Spawn    messages.Position
	Reason   string
}

// ApprovalFunc decides whether the connection with the given zero-based
// arrival order may join.
type ApprovalFunc func(order int) Approval

var (
	SpawnA = messages.Position{X: -6, Y: 0, Z: 0}
	SpawnB = messages.Position{X: 6, Y: 0, Z: 0}
)

// TwoSeatApproval admits the first connection at SpawnA, the second at
// SpawnB and rejects the rest.
func TwoSeatApproval(order int) Approval {
	switch order {
	case 0:
		return Approval{Approved: true, Spawn: SpawnA}
	case 1:
		return Approval{Approved: true, Spawn: SpawnB}
	default:
		return Approval{Reason: "session is full"}
	}
}

// CapacityApproval admits the first n concurrent connections.
func CapacityApproval(n int) ApprovalFunc {
	return func(order int) Approval {
		if order < n {
			return Approval{Approved: true}
		}
		return Approval{Reason: "session is full"}
	}
}
