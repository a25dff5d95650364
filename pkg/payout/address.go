package payout

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var hederaIDPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

// ValidateHederaAddress checks the shard.realm.num entity id format.
func ValidateHederaAddress(id string) error {
	if !hederaIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidHederaAddress, id)
	}
	return nil
}

// ValidateEvmAddress checks a 0x-prefixed 20 byte hex address.
func ValidateEvmAddress(addr string) error {
	if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
		return fmt.Errorf("%w: %q", ErrInvalidEvmAddress, addr)
	}
	return nil
}

// NormalizeEvmAddress lower-cases a valid EVM address.
func NormalizeEvmAddress(addr string) string {
	return strings.ToLower(common.HexToAddress(addr).Hex())
}

// IsLongZeroAddress reports whether addr encodes a Hedera entity id
// (shard:4 | realm:8 | num:8) instead of an ECDSA alias.
func IsLongZeroAddress(addr string) bool {
	if ValidateEvmAddress(addr) != nil {
		return false
	}
	b := common.HexToAddress(addr).Bytes()
	for _, v := range b[:12] {
		if v != 0 {
			return false
		}
	}
	return true
}

// LongZeroToHederaID decodes a long-zero EVM address into shard.realm.num.
func LongZeroToHederaID(addr string) (string, error) {
	if !IsLongZeroAddress(addr) {
		return "", fmt.Errorf("%w: %q is not a long-zero address", ErrInvalidEvmAddress, addr)
	}
	b := common.HexToAddress(addr).Bytes()
	shard := binary.BigEndian.Uint32(b[0:4])
	realm := binary.BigEndian.Uint64(b[4:12])
	num := binary.BigEndian.Uint64(b[12:20])
	return fmt.Sprintf("%d.%d.%d", shard, realm, num), nil
}

// HederaIDToLongZero encodes shard.realm.num as a long-zero EVM address.
func HederaIDToLongZero(id string) (string, error) {
	m := hederaIDPattern.FindStringSubmatch(id)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidHederaAddress, id)
	}
	shard, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return "", fmt.Errorf("%w: shard out of range", ErrInvalidHederaAddress)
	}
	realm, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: realm out of range", ErrInvalidHederaAddress)
	}
	num, err := strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: num out of range", ErrInvalidHederaAddress)
	}

	var b [20]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(shard))
	binary.BigEndian.PutUint64(b[4:12], realm)
	binary.BigEndian.PutUint64(b[12:20], num)
	return NormalizeEvmAddress(common.BytesToAddress(b[:]).Hex()), nil
}
