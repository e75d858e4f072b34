package state

import (
	"fmt"

	"escrowd/core/types"
	"escrowd/native/staking"
)

func stakeUserKey(owner [20]byte) []byte {
	return prefixedKey(stakeUserPrefix, owner[:])
}

// StakeUserGet loads the staking record keyed by its owner.
func (m *Manager) StakeUserGet(owner [20]byte) (*staking.UserRecord, bool) {
	record := new(staking.UserRecord)
	ok, err := m.recordGet(stakeUserKey(owner), record)
	if err != nil || !ok {
		return nil, false
	}
	return record.Clone(), true
}

// StakeUserCreate persists a new staking record for its owner.
func (m *Manager) StakeUserCreate(record *staking.UserRecord, reservePayer [20]byte) error {
	sanitized, err := staking.SanitizeUserRecord(record)
	if err != nil {
		return err
	}
	if _, exists := m.StakeUserGet(sanitized.Owner); exists {
		return fmt.Errorf("state: stake user %x: %w", sanitized.Owner, types.ErrAlreadyExists)
	}
	return m.recordCreate(stakeUserKey(sanitized.Owner), sanitized, reservePayer)
}

// StakeUserPut updates an existing staking record in place.
func (m *Manager) StakeUserPut(record *staking.UserRecord) error {
	sanitized, err := staking.SanitizeUserRecord(record)
	if err != nil {
		return err
	}
	if _, exists := m.StakeUserGet(sanitized.Owner); !exists {
		return fmt.Errorf("state: stake user %x: %w", sanitized.Owner, types.ErrNotFound)
	}
	return m.recordPut(stakeUserKey(sanitized.Owner), sanitized)
}
