package types

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
)

// OperatorId is the 32 byte registry identifier of an operator, keccak256 of its G1 public key.
type OperatorId [32]byte

func (id OperatorId) Hex() string {
	return hexutil.Encode(id[:])
}

func (id OperatorId) String() string {
	return id.Hex()
}

func (id OperatorId) Big() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

func (id OperatorId) Less(other OperatorId) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// OperatorIdFromHex parses a 0x-prefixed or bare hex id. Shorter inputs are left padded.
func OperatorIdFromHex(s string) (OperatorId, error) {
	var id OperatorId
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hexutil.Decode("0x" + s)
	if err != nil {
		return id, err
	}
	if len(b) > 32 {
		return id, hexutil.ErrSyntax
	}
	copy(id[32-len(b):], b)
	return id, nil
}

// OperatorIdFromG1 derives the id the registry assigns: keccak256(abi.encodePacked(X, Y)).
func OperatorIdFromG1(p *bn254.G1Point) OperatorId {
	x, y := p.BigInts()
	return OperatorId(crypto.Keccak256Hash(
		common.LeftPadBytes(x.Bytes(), 32),
		common.LeftPadBytes(y.Bytes(), 32),
	))
}

// OperatorInfo is a registered operator as of a given block.
type OperatorInfo struct {
	OperatorId OperatorId
	Address    common.Address
	Stake      *big.Int
	PubkeyG1   *bn254.G1Point
	PubkeyG2   *bn254.G2Point
}

// OperatorSet is the registered operator set at a specific block.
type OperatorSet struct {
	BlockNumber uint32
	Operators   map[OperatorId]*OperatorInfo
}

func NewOperatorSet(blockNumber uint32, operators []*OperatorInfo) *OperatorSet {
	set := &OperatorSet{
		BlockNumber: blockNumber,
		Operators:   make(map[OperatorId]*OperatorInfo, len(operators)),
	}
	for _, op := range operators {
		set.Operators[op.OperatorId] = op
	}
	return set
}

func (s *OperatorSet) Get(id OperatorId) (*OperatorInfo, bool) {
	op, ok := s.Operators[id]
	return op, ok
}

func (s *OperatorSet) TotalStake() *big.Int {
	total := new(big.Int)
	for _, op := range s.Operators {
		if op.Stake != nil {
			total.Add(total, op.Stake)
		}
	}
	return total
}

// SortedIds returns every operator id in ascending order.
func (s *OperatorSet) SortedIds() []OperatorId {
	ids := make([]OperatorId, 0, len(s.Operators))
	for id := range s.Operators {
		ids = append(ids, id)
	}
	SortOperatorIds(ids)
	return ids
}

func SortOperatorIds(ids []OperatorId) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Less(ids[j])
	})
}
