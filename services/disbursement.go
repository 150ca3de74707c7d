// services/disbursement.go
package services

import "log"

// RewardDisburser is the crediting boundary invoked exactly once per
// activation. Actual crediting is owned by the wallet service; this engine
// only decides that a reward is owed.
type RewardDisburser interface {
	Disburse(referrerID, invitedID string, amount int64, rewardType string) error
}

// StubDisburser is the shipped implementation. It deliberately does not
// credit anything — the wallet service integration is a pending boundary,
// and activations are recoverable from the reward audit log once it lands.
// TODO: replace with the wallet service client once its credit endpoint ships.
type StubDisburser struct{}

func (StubDisburser) Disburse(referrerID, invitedID string, amount int64, rewardType string) error {
	log.Printf("💰 [DISBURSE-STUB] would credit %d %s to referrer %s for inviting %s (no-op)", amount, rewardType, referrerID, invitedID)
	return nil
}
