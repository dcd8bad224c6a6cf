package service

import "time"

const (
	// LockTTL only fences crashed holders; live holders release via their
	// token. Sized above the worst-case close: twenty slot activations,
	// each a membership check plus up to two notification calls against a
	// slow bot gateway.
	LockTTL = 15 * time.Minute

	// Respond waits briefly for the giveaway lock instead of dropping the
	// user's answer while a sibling slot is mid-transition.
	lockWait          = 5 * time.Second
	lockRetryInterval = 25 * time.Millisecond

	DefaultSweepInterval = 30 * time.Second
)
