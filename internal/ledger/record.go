package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
)

// recordSize is the encoded length of a Record:
// principal(32) | stakeTime(8) | lastClaimTime(8) | claimedAmount(32).
const recordSize = 32 + 8 + 8 + 32

// Record is the stake held by one account. A record exists only while
// Principal is non-zero.
type Record struct {
	Principal     *uint256.Int `json:"principal"`
	StakeTime     uint64       `json:"stakeTime"`
	LastClaimTime uint64       `json:"lastClaimTime"`
	ClaimedAmount *uint256.Int `json:"claimedAmount"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Principal:     new(uint256.Int).Set(r.Principal),
		StakeTime:     r.StakeTime,
		LastClaimTime: r.LastClaimTime,
		ClaimedAmount: new(uint256.Int).Set(r.ClaimedAmount),
	}
}

func (r *Record) encode() []byte {
	buf := make([]byte, recordSize)
	p := r.Principal.Bytes32()
	copy(buf[0:32], p[:])
	binary.BigEndian.PutUint64(buf[32:40], r.StakeTime)
	binary.BigEndian.PutUint64(buf[40:48], r.LastClaimTime)
	c := r.ClaimedAmount.Bytes32()
	copy(buf[48:80], c[:])
	return buf
}

func decodeRecord(b []byte) (*Record, error) {
	if len(b) != recordSize {
		return nil, fmt.Errorf("stake record must be %d bytes, got %d", recordSize, len(b))
	}
	return &Record{
		Principal:     new(uint256.Int).SetBytes32(b[0:32]),
		StakeTime:     binary.BigEndian.Uint64(b[32:40]),
		LastClaimTime: binary.BigEndian.Uint64(b[40:48]),
		ClaimedAmount: new(uint256.Int).SetBytes32(b[48:80]),
	}, nil
}
