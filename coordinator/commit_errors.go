package coordinator

import "fmt"

// WentOffline is returned when the membership status is not ONLINE at
// participant-capture time.
type WentOffline struct{}

func (e *WentOffline) Error() string { return "node went offline during commit" }

// PrepareFailed is returned when a participant voted ABORTED, or was
// dropped during prepare gather via confirmed disablement.
type PrepareFailed struct {
	NodeID int
}

func (e *PrepareFailed) Error() string {
	return fmt.Sprintf("prepare failed at node %d", e.NodeID)
}

// ErrMajorityNotReached is returned when fewer than a strict majority of
// all_nodes accepted the prepare.
type ErrMajorityNotReached struct {
	Accepted int
	Total    int
}

func (e *ErrMajorityNotReached) Error() string {
	return fmt.Sprintf("majority not reached: %d of %d", e.Accepted, e.Total)
}
