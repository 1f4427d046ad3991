package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/signing/bn254"
	"github.com/zellular-xyz/incredible-squaring-avs-go/pkg/types"
)

// jsonBigInt accepts a JSON number or a decimal / 0x-hex string. uint256 values do not fit a float64.
type jsonBigInt struct {
	*big.Int
}

func (b *jsonBigInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("value is null")
	}
	s := strings.Trim(string(data), `"`)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return fmt.Errorf("invalid integer %s", string(data))
	}
	if v.Sign() < 0 {
		return fmt.Errorf("negative integer %s", string(data))
	}
	b.Int = v
	return nil
}

func (b *jsonBigInt) uint32() (uint32, error) {
	if b.Int == nil || !b.IsUint64() || b.Uint64() > math.MaxUint32 {
		return 0, fmt.Errorf("value %v out of uint32 range", b.Int)
	}
	return uint32(b.Uint64()), nil
}

type signaturePayload struct {
	X jsonBigInt `json:"X"`
	Y jsonBigInt `json:"Y"`
}

// SignatureRequest is the body of POST /signature.
type SignatureRequest struct {
	TaskIndex     jsonBigInt       `json:"task_index"`
	NumberSquared jsonBigInt       `json:"number_squared"`
	Signature     signaturePayload `json:"signature"`
	BlockNumber   jsonBigInt       `json:"block_number"`
	OperatorId    string           `json:"operator_id"`
}

type SignatureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ToSignedResponse validates the request fields and converts them to the engine's input.
func (r *SignatureRequest) ToSignedResponse() (*types.SignedResponse, error) {
	if r.TaskIndex.Int == nil || r.NumberSquared.Int == nil || r.BlockNumber.Int == nil {
		return nil, fmt.Errorf("task_index, number_squared and block_number are required")
	}
	if r.Signature.X.Int == nil || r.Signature.Y.Int == nil {
		return nil, fmt.Errorf("signature X and Y are required")
	}
	if r.NumberSquared.BitLen() > 256 {
		return nil, fmt.Errorf("number_squared exceeds uint256")
	}
	taskIndex, err := r.TaskIndex.uint32()
	if err != nil {
		return nil, fmt.Errorf("task_index: %w", err)
	}
	blockNumber, err := r.BlockNumber.uint32()
	if err != nil {
		return nil, fmt.Errorf("block_number: %w", err)
	}
	operatorId, err := types.OperatorIdFromHex(r.OperatorId)
	if err != nil || r.OperatorId == "" {
		return nil, fmt.Errorf("invalid operator_id %q", r.OperatorId)
	}

	sig := &bn254.Signature{G1Point: bn254.NewG1Point(r.Signature.X.Int, r.Signature.Y.Int)}
	if !sig.IsOnCurve() {
		return nil, fmt.Errorf("signature is not a G1 point")
	}

	return &types.SignedResponse{
		TaskIndex:     taskIndex,
		OperatorId:    operatorId,
		NumberSquared: r.NumberSquared.Int,
		Signature:     sig,
		BlockNumber:   blockNumber,
	}, nil
}

func decodeSignatureRequest(body []byte) (*SignatureRequest, error) {
	var req SignatureRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
