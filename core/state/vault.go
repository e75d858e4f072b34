package state

import (
	"fmt"

	"escrowd/core/types"
	"escrowd/native/vault"
)

func vaultStateKey(owner [20]byte) []byte {
	return prefixedKey(vaultStatePrefix, owner[:])
}

// VaultStateGet loads the vault state record keyed by its owner.
func (m *Manager) VaultStateGet(owner [20]byte) (*vault.State, bool) {
	record := new(vault.State)
	ok, err := m.recordGet(vaultStateKey(owner), record)
	if err != nil || !ok {
		return nil, false
	}
	return record.Clone(), true
}

// VaultStateCreate persists a new vault state record for its owner.
func (m *Manager) VaultStateCreate(record *vault.State, reservePayer [20]byte) error {
	sanitized, err := vault.SanitizeState(record)
	if err != nil {
		return err
	}
	if _, exists := m.VaultStateGet(sanitized.Owner); exists {
		return fmt.Errorf("state: vault state %x: %w", sanitized.Owner, types.ErrAlreadyExists)
	}
	return m.recordCreate(vaultStateKey(sanitized.Owner), sanitized, reservePayer)
}

// VaultStateDelete removes the owner's vault state record and returns its
// reserve.
func (m *Manager) VaultStateDelete(owner [20]byte, reserveTo [20]byte) error {
	if _, exists := m.VaultStateGet(owner); !exists {
		return fmt.Errorf("state: vault state %x: %w", owner, types.ErrNotFound)
	}
	return m.recordDelete(vaultStateKey(owner), reserveTo)
}
