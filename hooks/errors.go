package hooks

import "fmt"

// ClusterNotOnline is returned by OnTxStart when the node's membership
// status is not ONLINE.
type ClusterNotOnline struct{}

func (e *ClusterNotOnline) Error() string { return "cluster not online" }

// WrongDatabase is returned by OnPrePrepare when the session's database
// does not match the configured database.
type WrongDatabase struct {
	Database string
}

func (e *WrongDatabase) Error() string {
	return fmt.Sprintf("wrong database: %s", e.Database)
}
