package s2s

// CollisionOutcome is the result of resolving a TS6 nick or channel
// collision by comparing timestamps, mirroring uidCommand/nickCommand's
// three-way branch (older wins, tie kills both, newer loses).
type CollisionOutcome int

const (
	// KillIncoming means the newly introduced identity loses; the
	// pre-existing one survives.
	KillIncoming CollisionOutcome = iota
	// KillExisting means the pre-existing identity loses to the newer
	// introduction (the incoming one has a strictly lower/older TS).
	KillExisting
	// KillBoth means the timestamps tied; TS6 kills both sides to force a
	// clean re-registration.
	KillBoth
)

// ResolveNickCollision compares the TS of a user already known locally
// (existingTS) against one just introduced by a peer (incomingTS), per
// the rule: lower (older) timestamp wins; equal timestamps kill both.
func ResolveNickCollision(existingTS, incomingTS int64) CollisionOutcome {
	switch {
	case incomingTS < existingTS:
		return KillExisting
	case incomingTS == existingTS:
		return KillBoth
	default:
		return KillIncoming
	}
}

// ChannelCollisionOutcome is the result of comparing two independently
// created channels of the same name across a link, per SJOIN's TS rule.
type ChannelCollisionOutcome int

const (
	// KeepExistingModes means the locally-known channel's TS is lower
	// (older); its modes/ops win and the incoming side's ops are dropped.
	KeepExistingModes ChannelCollisionOutcome = iota
	// KeepIncomingModes means the peer's channel is older; its modes/ops
	// replace the local side's.
	KeepIncomingModes
	// MergeModes means the timestamps tied; unlike a nick collision this
	// is not destructive — members from both sides merge and channel
	// modes are combined rather than either side losing its ops.
	MergeModes
)

// ResolveChannelCollision applies the lower-wins rule SJOIN uses to decide
// whose channel modes/ops survive when two servers created a channel of
// the same name independently before the link formed. Member sets always
// merge regardless of outcome; only the mode/ops side is decided here.
func ResolveChannelCollision(existingTS, incomingTS int64) ChannelCollisionOutcome {
	switch {
	case incomingTS < existingTS:
		return KeepIncomingModes
	case incomingTS == existingTS:
		return MergeModes
	default:
		return KeepExistingModes
	}
}
