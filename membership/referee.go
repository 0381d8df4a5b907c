package membership

// RefereeClient is the subset of referee.Client that membership needs,
// declared here to avoid an import cycle between membership and referee
// (referee only needs node/epoch identifiers, not a Machine).
type RefereeClient interface {
	RequestGrant(epoch uint64) (won bool, err error)
}

// ResolveSplitBrain is called when the clique has degenerated to self
// alone in a two-node cluster. It consults ref and transitions the
// machine accordingly: a grant allows the caller to proceed toward
// ONLINE, its absence keeps the node DISABLED.
func (m *Machine) ResolveSplitBrain(ref RefereeClient, epoch uint64) (won bool, err error) {
	if m.maxNodes != 2 {
		return false, nil
	}

	won, err = ref.RequestGrant(epoch)
	if err != nil {
		return false, err
	}
	if !won {
		m.GoDisabled("referee arbitration lost")
	}
	return won, nil
}
