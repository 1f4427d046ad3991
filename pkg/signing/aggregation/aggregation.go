package aggregation

import (
	"fmt"
	"math/big"

	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

// PairingVerifier checks a BLS signature over a 32 byte digest against a G2 public key.
type PairingVerifier interface {
	VerifySignature(sig *bn254.Signature, pubkey *bn254.G2Point, digest [32]byte) (bool, error)
}

// BLSVerifier verifies with the BN254 pairing check e(H(m), pk) == e(sig, g2).
type BLSVerifier struct{}

func (BLSVerifier) VerifySignature(sig *bn254.Signature, pubkey *bn254.G2Point, digest [32]byte) (bool, error) {
	if sig == nil || pubkey == nil {
		return false, fmt.Errorf("signature and public key are required")
	}
	return sig.Verify(pubkey, digest)
}

// FinalizePolicy decides what happens to a task's finalized flag when fetching indices or
// submitting the aggregate fails.
type FinalizePolicy string

const (
	// FinalizeBeforeSubmit keeps the task finalized; later submissions get AlreadyFinalized.
	FinalizeBeforeSubmit FinalizePolicy = "finalize-before-submit"

	// ReopenOnFailure clears the flag so the next valid submission retries the aggregation.
	ReopenOnFailure FinalizePolicy = "reopen-on-failure"
)

func (p FinalizePolicy) Valid() bool {
	return p == FinalizeBeforeSubmit || p == ReopenOnFailure
}

type OutcomeKind int

const (
	OutcomeAccepted OutcomeKind = iota
	OutcomeThresholdReached
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeThresholdReached:
		return "threshold_reached"
	default:
		return "accepted"
	}
}

// Outcome is the result of a successful Submit.
type Outcome struct {
	Kind        OutcomeKind
	SignedStake *big.Int
	TotalStake  *big.Int

	// set when Kind is OutcomeThresholdReached
	Proof   *types.AggregateProof
	Receipt *ethTypes.Receipt
}

// Error is a classified rejection from the engine.
type Error struct {
	Kind      types.ErrorKind
	TaskIndex uint32
	Err       error
}

func newError(kind types.ErrorKind, taskIndex uint32, err error) *Error {
	return &Error{Kind: kind, TaskIndex: taskIndex, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task %d: %s: %v", e.TaskIndex, e.Kind, e.Err)
	}
	return fmt.Sprintf("task %d: %s", e.TaskIndex, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) ErrorKind() types.ErrorKind {
	return e.Kind
}
