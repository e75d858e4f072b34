package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/core/types"
	"escrowd/storage"
)

// Params fixes the ledger-wide constants at construction time.
type Params struct {
	// NativeToken denominates reserves and the personal-vault holdings.
	NativeToken string
	// RecordReserve is debited when a derived record is created and returned
	// to whoever closes it.
	RecordReserve *big.Int
	// HoldingReserve is the equivalent deposit for holding accounts.
	HoldingReserve *big.Int
}

// Manager reads and writes ledger state. All values are RLP encoded and
// stored under keccak256-hashed prefixed keys.
//
// Writes normally go straight to the backing database. Inside a transaction
// (Begin/Commit/Discard) they collect in an overlay that reads observe and
// that Discard drops wholesale — the atomicity mechanism every native-module
// operation runs under.
//
// Manager is not safe for concurrent use; the node serialises access.
type Manager struct {
	db     storage.Database
	params Params

	inTxn   bool
	overlay map[string][]byte
	deleted map[string]struct{}
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database, params Params) (*Manager, error) {
	native := strings.ToUpper(strings.TrimSpace(params.NativeToken))
	if native == "" {
		return nil, fmt.Errorf("state: native token must be configured")
	}
	params.NativeToken = native
	if params.RecordReserve == nil {
		params.RecordReserve = big.NewInt(0)
	}
	if params.HoldingReserve == nil {
		params.HoldingReserve = big.NewInt(0)
	}
	if params.RecordReserve.Sign() < 0 || params.HoldingReserve.Sign() < 0 {
		return nil, fmt.Errorf("state: reserves must be non-negative")
	}
	return &Manager{
		db:      db,
		params:  params,
		overlay: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}, nil
}

// NativeToken returns the symbol reserves are denominated in.
func (m *Manager) NativeToken() string { return m.params.NativeToken }

// --- transactions ---

// Begin opens a transaction. Nested transactions are not supported.
func (m *Manager) Begin() error {
	if m.inTxn {
		return fmt.Errorf("state: transaction already open")
	}
	m.inTxn = true
	return nil
}

// Commit flushes the overlay to the backing database and closes the
// transaction.
func (m *Manager) Commit() error {
	if !m.inTxn {
		return fmt.Errorf("state: no open transaction")
	}
	for key, value := range m.overlay {
		if err := m.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	for key := range m.deleted {
		if err := m.db.Delete([]byte(key)); err != nil {
			return err
		}
	}
	m.reset()
	return nil
}

// Discard drops every write made since Begin.
func (m *Manager) Discard() {
	m.reset()
}

func (m *Manager) reset() {
	m.inTxn = false
	m.overlay = make(map[string][]byte)
	m.deleted = make(map[string]struct{})
}

func (m *Manager) rawGet(key []byte) ([]byte, error) {
	if m.inTxn {
		if _, gone := m.deleted[string(key)]; gone {
			return nil, nil
		}
		if value, ok := m.overlay[string(key)]; ok {
			return value, nil
		}
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) rawPut(key, value []byte) error {
	if m.inTxn {
		delete(m.deleted, string(key))
		m.overlay[string(key)] = value
		return nil
	}
	return m.db.Put(key, value)
}

func (m *Manager) rawDelete(key []byte) error {
	if m.inTxn {
		delete(m.overlay, string(key))
		m.deleted[string(key)] = struct{}{}
		return nil
	}
	return m.db.Delete(key)
}

// --- keys ---

var (
	tokenPrefix      = []byte("token:")
	tokenListKey     = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix    = []byte("balance:")
	holdingPrefix    = []byte("holding:")
	offerPrefix      = []byte("offer:")
	vaultStatePrefix = []byte("vault_state:")
	stakeUserPrefix  = []byte("stake_user:")
	genesisKey       = ethcrypto.Keccak256([]byte("genesis-done"))
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func tokenMetadataKey(symbol string) []byte {
	return prefixedKey(tokenPrefix, []byte(symbol))
}

func balanceKey(addr [20]byte, symbol string) []byte {
	return prefixedKey(balancePrefix, []byte(symbol), addr[:])
}

func holdingKey(addr [20]byte) []byte {
	return prefixedKey(holdingPrefix, addr[:])
}

// --- token registry ---

// TokenMetadata describes one registered asset.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

func normalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("state: token symbol must not be empty")
	}
	return trimmed, nil
}

// RegisterToken stores metadata for a native asset and records it in the
// token index.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized, err := normalizeToken(symbol)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("state: token %s: name must not be empty", normalized)
	}
	existing, err := m.loadTokenMetadata(normalized)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("state: token %s: %w", normalized, types.ErrAlreadyExists)
	}
	list, err := m.TokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	encodedList, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	if err := m.rawPut(tokenListKey, encodedList); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals})
	if err != nil {
		return err
	}
	return m.rawPut(tokenMetadataKey(normalized), encoded)
}

func (m *Manager) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	data, err := m.rawGet(tokenMetadataKey(symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Token retrieves metadata for a registered token.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	normalized, err := normalizeToken(symbol)
	if err != nil {
		return nil, err
	}
	meta, err := m.loadTokenMetadata(normalized)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("state: token %s: %w", normalized, types.ErrUnknownAsset)
	}
	return meta, nil
}

// TokenList returns all registered token symbols in registration order.
func (m *Manager) TokenList() ([]string, error) {
	data, err := m.rawGet(tokenListKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// TokenRegistered reports whether the symbol is present in the registry.
func (m *Manager) TokenRegistered(symbol string) bool {
	normalized, err := normalizeToken(symbol)
	if err != nil {
		return false
	}
	meta, err := m.loadTokenMetadata(normalized)
	return err == nil && meta != nil
}

// --- balances and transfers ---

// Balance returns the token balance of an address. Absent balances read as
// zero; user balances are created implicitly on first credit.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	normalized, err := normalizeToken(symbol)
	if err != nil {
		return nil, err
	}
	if !m.TokenRegistered(normalized) {
		return nil, fmt.Errorf("state: token %s: %w", normalized, types.ErrUnknownAsset)
	}
	return m.loadBalance(addr, normalized)
}

func (m *Manager) loadBalance(addr [20]byte, symbol string) (*big.Int, error) {
	data, err := m.rawGet(balanceKey(addr, symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) storeBalance(addr [20]byte, symbol string, amount *big.Int) error {
	key := balanceKey(addr, symbol)
	if amount.Sign() == 0 {
		return m.rawDelete(key)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.rawPut(key, encoded)
}

func (m *Manager) credit(addr [20]byte, symbol string, amount *big.Int) error {
	balance, err := m.loadBalance(addr, symbol)
	if err != nil {
		return err
	}
	return m.storeBalance(addr, symbol, new(big.Int).Add(balance, amount))
}

func (m *Manager) debit(addr [20]byte, symbol string, amount *big.Int) error {
	balance, err := m.loadBalance(addr, symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("state: debit %s from %x: %w", symbol, addr, types.ErrInsufficientFunds)
	}
	return m.storeBalance(addr, symbol, new(big.Int).Sub(balance, amount))
}

// Transfer moves amount of a token between accounts. The authorizer must be
// the debited account itself, or, for holding accounts, the authority
// recorded at creation — the ledger-side half of the derived-authority
// contract. Holdings additionally pin the asset they were created for.
func (m *Manager) Transfer(from, to [20]byte, symbol string, amount *big.Int, authorizer [20]byte) error {
	normalized, err := normalizeToken(symbol)
	if err != nil {
		return err
	}
	if !m.TokenRegistered(normalized) {
		return fmt.Errorf("state: token %s: %w", normalized, types.ErrUnknownAsset)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	fromMeta, err := m.holdingGet(from)
	if err != nil {
		return err
	}
	if fromMeta != nil {
		if fromMeta.Authority != authorizer {
			return fmt.Errorf("state: holding %x: %w", from, types.ErrUnauthorized)
		}
		if fromMeta.Token != normalized {
			return fmt.Errorf("state: holding %x holds %s: %w", from, fromMeta.Token, types.ErrAssetMismatch)
		}
	} else if authorizer != from {
		return fmt.Errorf("state: account %x: %w", from, types.ErrUnauthorized)
	}
	toMeta, err := m.holdingGet(to)
	if err != nil {
		return err
	}
	if toMeta != nil && toMeta.Token != normalized {
		return fmt.Errorf("state: holding %x holds %s: %w", to, toMeta.Token, types.ErrAssetMismatch)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := m.debit(from, normalized, amount); err != nil {
		return err
	}
	return m.credit(to, normalized, amount)
}

// Mint credits freshly issued token units to an account.
func (m *Manager) Mint(to [20]byte, symbol string, amount *big.Int) error {
	normalized, err := normalizeToken(symbol)
	if err != nil {
		return err
	}
	if !m.TokenRegistered(normalized) {
		return fmt.Errorf("state: token %s: %w", normalized, types.ErrUnknownAsset)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: mint amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	return m.credit(to, normalized, amount)
}

// SetBalance overwrites a balance directly. Genesis allocation only.
func (m *Manager) SetBalance(addr [20]byte, symbol string, amount *big.Int) error {
	normalized, err := normalizeToken(symbol)
	if err != nil {
		return err
	}
	if !m.TokenRegistered(normalized) {
		return fmt.Errorf("state: token %s: %w", normalized, types.ErrUnknownAsset)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance not allowed")
	}
	return m.storeBalance(addr, normalized, amount)
}

// --- holding accounts ---

type holdingMeta struct {
	Token     string
	Authority [20]byte
	Reserve   *big.Int
}

func (m *Manager) holdingGet(addr [20]byte) (*holdingMeta, error) {
	data, err := m.rawGet(holdingKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(holdingMeta)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// HoldingCreate opens an asset-custody account whose transfers only the
// recorded authority can authorise. The reserve is debited from the payer in
// the native token and parked on the holding until it is closed.
func (m *Manager) HoldingCreate(addr [20]byte, symbol string, authority, reservePayer [20]byte) error {
	normalized, err := normalizeToken(symbol)
	if err != nil {
		return err
	}
	if !m.TokenRegistered(normalized) {
		return fmt.Errorf("state: token %s: %w", normalized, types.ErrUnknownAsset)
	}
	existing, err := m.holdingGet(addr)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("state: holding %x: %w", addr, types.ErrAlreadyExists)
	}
	reserve := new(big.Int).Set(m.params.HoldingReserve)
	if reserve.Sign() > 0 {
		if err := m.debit(reservePayer, m.params.NativeToken, reserve); err != nil {
			return err
		}
	}
	encoded, err := rlp.EncodeToBytes(&holdingMeta{Token: normalized, Authority: authority, Reserve: reserve})
	if err != nil {
		return err
	}
	return m.rawPut(holdingKey(addr), encoded)
}

// HoldingClose removes an emptied holding account and returns its reserve to
// the closing party.
func (m *Manager) HoldingClose(addr [20]byte, reserveTo [20]byte) error {
	meta, err := m.holdingGet(addr)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("state: holding %x: %w", addr, types.ErrNotFound)
	}
	balance, err := m.loadBalance(addr, meta.Token)
	if err != nil {
		return err
	}
	if balance.Sign() != 0 {
		return fmt.Errorf("state: holding %x not empty", addr)
	}
	if meta.Reserve != nil && meta.Reserve.Sign() > 0 {
		if err := m.credit(reserveTo, m.params.NativeToken, meta.Reserve); err != nil {
			return err
		}
	}
	return m.rawDelete(holdingKey(addr))
}

// HoldingAuthority returns the recorded authority of a holding account.
func (m *Manager) HoldingAuthority(addr [20]byte) ([20]byte, error) {
	meta, err := m.holdingGet(addr)
	if err != nil {
		return [20]byte{}, err
	}
	if meta == nil {
		return [20]byte{}, fmt.Errorf("state: holding %x: %w", addr, types.ErrNotFound)
	}
	return meta.Authority, nil
}

// --- derived records ---

// storedRecord wraps a module record with the reserve that was debited at
// creation so teardown returns exactly what was taken, even across reserve
// reconfiguration.
type storedRecord struct {
	Reserve *big.Int
	Payload []byte
}

func (m *Manager) recordCreate(key []byte, record interface{}, reservePayer [20]byte) error {
	payload, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	reserve := new(big.Int).Set(m.params.RecordReserve)
	if reserve.Sign() > 0 {
		if err := m.debit(reservePayer, m.params.NativeToken, reserve); err != nil {
			return err
		}
	}
	encoded, err := rlp.EncodeToBytes(&storedRecord{Reserve: reserve, Payload: payload})
	if err != nil {
		return err
	}
	return m.rawPut(key, encoded)
}

func (m *Manager) recordPut(key []byte, record interface{}) error {
	data, err := m.rawGet(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("state: record: %w", types.ErrNotFound)
	}
	stored := new(storedRecord)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return err
	}
	payload, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	stored.Payload = payload
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.rawPut(key, encoded)
}

func (m *Manager) recordGet(key []byte, out interface{}) (bool, error) {
	data, err := m.rawGet(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	stored := new(storedRecord)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(stored.Payload, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) recordDelete(key []byte, reserveTo [20]byte) error {
	data, err := m.rawGet(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("state: record: %w", types.ErrNotFound)
	}
	stored := new(storedRecord)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return err
	}
	if stored.Reserve != nil && stored.Reserve.Sign() > 0 {
		if err := m.credit(reserveTo, m.params.NativeToken, stored.Reserve); err != nil {
			return err
		}
	}
	return m.rawDelete(key)
}

// --- genesis bookkeeping ---

// GenesisDone reports whether genesis initialisation already ran.
func (m *Manager) GenesisDone() (bool, error) {
	data, err := m.rawGet(genesisKey)
	if err != nil {
		return false, err
	}
	return len(data) > 0, nil
}

// MarkGenesis records that genesis initialisation completed.
func (m *Manager) MarkGenesis() error {
	return m.rawPut(genesisKey, []byte{1})
}
