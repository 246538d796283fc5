package state

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	bolt "go.etcd.io/bbolt"
)

// Manager exposes typed accessors over a single Bolt transaction. It
// satisfies the state interfaces of the bank, compliance, credit and yield
// engines.
type Manager struct {
	tx *bolt.Tx
}

func idKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

// assetKey prefixes the asset symbol with a NUL terminator so a prefix scan
// over one asset never matches another asset sharing a prefix.
func assetKey(asset string, addr *common.Address) []byte {
	buf := make([]byte, 0, len(asset)+1+common.AddressLength)
	buf = append(buf, asset...)
	buf = append(buf, 0)
	if addr != nil {
		buf = append(buf, addr.Bytes()...)
	}
	return buf
}

func claimKey(settlementID uint64, holder common.Address) []byte {
	return append(idKey(settlementID), holder.Bytes()...)
}

func (m *Manager) bucket(name []byte) (*bolt.Bucket, error) {
	if m == nil || m.tx == nil {
		return nil, fmt.Errorf("state: transaction not open")
	}
	b := m.tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("state: bucket %q missing", name)
	}
	return b, nil
}

func (m *Manager) put(bucket, key []byte, value interface{}) error {
	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", bucket, err)
	}
	return b.Put(key, encoded)
}

func (m *Manager) get(bucket, key []byte, out interface{}) (bool, error) {
	b, err := m.bucket(bucket)
	if err != nil {
		return false, err
	}
	raw := b.Get(key)
	if raw == nil {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", bucket, err)
	}
	return true, nil
}

func (m *Manager) delete(bucket, key []byte) error {
	b, err := m.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Delete(key)
}

// nextSequence increments the named counter in the meta bucket. The first
// value handed out is 1.
func (m *Manager) nextSequence(name string) (uint64, error) {
	b, err := m.bucket(bucketMeta)
	if err != nil {
		return 0, err
	}
	key := []byte("seq:" + name)
	var current uint64
	if raw := b.Get(key); len(raw) == 8 {
		current = binary.BigEndian.Uint64(raw)
	}
	current++
	if err := b.Put(key, idKey(current)); err != nil {
		return 0, err
	}
	return current, nil
}

// scan walks keys beginning with prefix, starting strictly after from when
// from is set, and decodes up to limit values.
func scan[T any](m *Manager, bucket, prefix, from []byte, limit int) ([]*T, error) {
	b, err := m.bucket(bucket)
	if err != nil {
		return nil, err
	}
	c := b.Cursor()
	var k, v []byte
	if from != nil {
		k, v = c.Seek(from)
		if k != nil && bytes.Equal(k, from) {
			k, v = c.Next()
		}
	} else {
		k, v = c.Seek(prefix)
	}
	var out []*T
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		item := new(T)
		if err := rlp.DecodeBytes(v, item); err != nil {
			return nil, fmt.Errorf("state: decode %s: %w", bucket, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// GetBalance returns the raw balance of asset held by addr.
func (m *Manager) GetBalance(addr common.Address, asset string) (*big.Int, error) {
	out := new(big.Int)
	if _, err := m.get(bucketBalances, append(addr.Bytes(), asset...), out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutBalance stores the raw balance of asset held by addr. Zero balances are
// removed.
func (m *Manager) PutBalance(addr common.Address, asset string, amount *big.Int) error {
	key := append(addr.Bytes(), asset...)
	if amount == nil || amount.Sign() == 0 {
		return m.delete(bucketBalances, key)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance for %s", addr.Hex())
	}
	return m.put(bucketBalances, key, amount)
}

// IsAllowed reports whether addr is on the compliance allow-list.
func (m *Manager) IsAllowed(addr common.Address) (bool, error) {
	b, err := m.bucket(bucketAllowlist)
	if err != nil {
		return false, err
	}
	return b.Get(addr.Bytes()) != nil, nil
}

// SetAllowed adds or removes addr from the allow-list.
func (m *Manager) SetAllowed(addr common.Address, allowed bool) error {
	b, err := m.bucket(bucketAllowlist)
	if err != nil {
		return err
	}
	if !allowed {
		return b.Delete(addr.Bytes())
	}
	return b.Put(addr.Bytes(), []byte{1})
}

// AllowedAccounts lists every address on the allow-list.
func (m *Manager) AllowedAccounts() ([]common.Address, error) {
	b, err := m.bucket(bucketAllowlist)
	if err != nil {
		return nil, err
	}
	var out []common.Address
	err = b.ForEach(func(k, _ []byte) error {
		out = append(out, common.BytesToAddress(k))
		return nil
	})
	return out, err
}

// ReserveEventSequence reserves count consecutive event sequence numbers and
// returns the first one.
func (m *Manager) ReserveEventSequence(count uint64) (uint64, error) {
	b, err := m.bucket(bucketMeta)
	if err != nil {
		return 0, err
	}
	key := []byte("seq:event")
	var current uint64
	if raw := b.Get(key); len(raw) == 8 {
		current = binary.BigEndian.Uint64(raw)
	}
	if count == 0 {
		return current + 1, nil
	}
	if err := b.Put(key, idKey(current+count)); err != nil {
		return 0, err
	}
	return current + 1, nil
}

// Flag reports whether the named one-shot marker has been set.
func (m *Manager) Flag(name string) (bool, error) {
	b, err := m.bucket(bucketMeta)
	if err != nil {
		return false, err
	}
	return b.Get([]byte("flag:"+name)) != nil, nil
}

// SetFlag records the named one-shot marker.
func (m *Manager) SetFlag(name string) error {
	b, err := m.bucket(bucketMeta)
	if err != nil {
		return err
	}
	return b.Put([]byte("flag:"+name), []byte{1})
}
