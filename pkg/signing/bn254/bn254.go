package bn254

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/hkdf"
)

var (
	g1Gen bn254.G1Affine
	g2Gen bn254.G2Affine
)

func init() {
	_, _, g1Gen, g2Gen = bn254.Generators()
}

func newFpElement(x *big.Int) fp.Element {
	var p fp.Element
	p.SetBigInt(x)
	return p
}

// G1Point is an affine point on the BN254 G1 curve.
type G1Point struct {
	*bn254.G1Affine
}

func NewG1Point(x, y *big.Int) *G1Point {
	return &G1Point{
		&bn254.G1Affine{
			X: newFpElement(x),
			Y: newFpElement(y),
		},
	}
}

// NewZeroG1Point returns the point at infinity, encoded as (0, 0).
func NewZeroG1Point() *G1Point {
	return NewG1Point(big.NewInt(0), big.NewInt(0))
}

// NewG1PointFromStrings parses decimal or 0x-prefixed hex coordinates.
func NewG1PointFromStrings(x, y string) (*G1Point, error) {
	bx, err := parseBigInt(x)
	if err != nil {
		return nil, fmt.Errorf("invalid G1 X coordinate: %w", err)
	}
	by, err := parseBigInt(y)
	if err != nil {
		return nil, fmt.Errorf("invalid G1 Y coordinate: %w", err)
	}
	p := NewG1Point(bx, by)
	if !p.IsOnCurve() {
		return nil, fmt.Errorf("point (%s, %s) is not on the G1 curve", x, y)
	}
	return p, nil
}

// Add adds p2 to p in place and returns p.
func (p *G1Point) Add(p2 *G1Point) *G1Point {
	p.G1Affine.Add(p.G1Affine, p2.G1Affine)
	return p
}

// Sub subtracts p2 from p in place and returns p.
func (p *G1Point) Sub(p2 *G1Point) *G1Point {
	p.G1Affine.Sub(p.G1Affine, p2.G1Affine)
	return p
}

func (p *G1Point) Clone() *G1Point {
	c := *p.G1Affine
	return &G1Point{&c}
}

func (p *G1Point) Equal(p2 *G1Point) bool {
	return p.G1Affine.Equal(p2.G1Affine)
}

// BigInts returns the affine coordinates as integers.
func (p *G1Point) BigInts() (*big.Int, *big.Int) {
	return p.X.BigInt(new(big.Int)), p.Y.BigInt(new(big.Int))
}

// G2Point is an affine point on the BN254 G2 twist.
type G2Point struct {
	*bn254.G2Affine
}

// NewG2Point builds a G2 point from coordinates in the EVM encoding, where X = [A1, A0] and Y = [A1, A0].
func NewG2Point(x, y [2]*big.Int) *G2Point {
	p := &bn254.G2Affine{}
	p.X.A1 = newFpElement(x[0])
	p.X.A0 = newFpElement(x[1])
	p.Y.A1 = newFpElement(y[0])
	p.Y.A0 = newFpElement(y[1])
	return &G2Point{p}
}

func NewZeroG2Point() *G2Point {
	zero := big.NewInt(0)
	return NewG2Point([2]*big.Int{zero, zero}, [2]*big.Int{zero, zero})
}

// NewG2PointFromStrings parses the EVM-ordered coordinates reported by the registry indexer.
func NewG2PointFromStrings(x, y [2]string) (*G2Point, error) {
	var bx, by [2]*big.Int
	for i := 0; i < 2; i++ {
		var err error
		if bx[i], err = parseBigInt(x[i]); err != nil {
			return nil, fmt.Errorf("invalid G2 X[%d] coordinate: %w", i, err)
		}
		if by[i], err = parseBigInt(y[i]); err != nil {
			return nil, fmt.Errorf("invalid G2 Y[%d] coordinate: %w", i, err)
		}
	}
	p := NewG2Point(bx, by)
	if !p.IsOnCurve() {
		return nil, fmt.Errorf("point is not on the G2 curve")
	}
	return p, nil
}

func (p *G2Point) Add(p2 *G2Point) *G2Point {
	p.G2Affine.Add(p.G2Affine, p2.G2Affine)
	return p
}

func (p *G2Point) Clone() *G2Point {
	c := *p.G2Affine
	return &G2Point{&c}
}

func (p *G2Point) Equal(p2 *G2Point) bool {
	return p.G2Affine.Equal(p2.G2Affine)
}

// BigInts returns the coordinates in the EVM encoding order.
func (p *G2Point) BigInts() ([2]*big.Int, [2]*big.Int) {
	return [2]*big.Int{p.X.A1.BigInt(new(big.Int)), p.X.A0.BigInt(new(big.Int))},
		[2]*big.Int{p.Y.A1.BigInt(new(big.Int)), p.Y.A0.BigInt(new(big.Int))}
}

// Signature is a BLS signature in G1.
type Signature struct {
	*G1Point
}

func NewZeroSignature() *Signature {
	return &Signature{NewZeroG1Point()}
}

func (s *Signature) Add(other *Signature) *Signature {
	s.G1Point.Add(other.G1Point)
	return s
}

// Verify checks e(H(m), pk) == e(sig, g2) for a G2 public key.
func (s *Signature) Verify(pubkey *G2Point, message [32]byte) (bool, error) {
	msgPoint := MapToCurve(message)

	var negSig bn254.G1Affine
	negSig.Neg(s.G1Affine)

	P := []bn254.G1Affine{*msgPoint, negSig}
	Q := []bn254.G2Affine{*pubkey.G2Affine, g2Gen}

	return bn254.PairingCheck(P, Q)
}

// MapToCurve hashes a 32 byte digest onto G1 by try-and-increment on x until x^3 + 3 is a square.
func MapToCurve(digest [32]byte) *bn254.G1Affine {
	one := big.NewInt(1)
	three := big.NewInt(3)
	modulus := fp.Modulus()

	x := new(big.Int).SetBytes(digest[:])
	x.Mod(x, modulus)
	for {
		y := new(big.Int).Exp(x, three, modulus)
		y.Add(y, three)
		y.Mod(y, modulus)

		if y.ModSqrt(y, modulus) == nil {
			x.Add(x, one).Mod(x, modulus)
			continue
		}
		return &bn254.G1Affine{
			X: newFpElement(x),
			Y: newFpElement(y),
		}
	}
}

// PrivateKey is a BLS secret scalar.
type PrivateKey struct {
	scalar *big.Int
}

func NewPrivateKey(scalar *big.Int) (*PrivateKey, error) {
	if scalar.Sign() <= 0 || scalar.Cmp(fr.Modulus()) >= 0 {
		return nil, fmt.Errorf("private key scalar out of range")
	}
	return &PrivateKey{scalar: new(big.Int).Set(scalar)}, nil
}

// NewPrivateKeyFromString accepts a decimal or 0x-prefixed hex scalar.
func NewPrivateKeyFromString(s string) (*PrivateKey, error) {
	scalar, err := parseBigInt(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return NewPrivateKey(scalar)
}

func NewPrivateKeyFromBytes(data []byte) (*PrivateKey, error) {
	return NewPrivateKey(new(big.Int).SetBytes(data))
}

func (pk *PrivateKey) Bytes() []byte {
	out := make([]byte, fr.Bytes)
	return pk.scalar.FillBytes(out)
}

func (pk *PrivateKey) String() string {
	return pk.scalar.String()
}

func (pk *PrivateKey) SignMessage(message [32]byte) *Signature {
	sig := new(bn254.G1Affine).ScalarMultiplication(MapToCurve(message), pk.scalar)
	return &Signature{&G1Point{sig}}
}

func (pk *PrivateKey) PublicKeyG1() *G1Point {
	return &G1Point{new(bn254.G1Affine).ScalarMultiplication(&g1Gen, pk.scalar)}
}

func (pk *PrivateKey) PublicKeyG2() *G2Point {
	return &G2Point{new(bn254.G2Affine).ScalarMultiplication(&g2Gen, pk.scalar)}
}

// KeyPair holds a private key and both of its public keys.
type KeyPair struct {
	PrivateKey *PrivateKey
	PubkeyG1   *G1Point
	PubkeyG2   *G2Point
}

func NewKeyPair(pk *PrivateKey) *KeyPair {
	return &KeyPair{
		PrivateKey: pk,
		PubkeyG1:   pk.PublicKeyG1(),
		PubkeyG2:   pk.PublicKeyG2(),
	}
}

func (kp *KeyPair) SignMessage(message [32]byte) *Signature {
	return kp.PrivateKey.SignMessage(message)
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	for {
		sk, err := rand.Int(rand.Reader, fr.Modulus())
		if err != nil {
			return nil, fmt.Errorf("failed to generate random private key: %w", err)
		}
		if sk.Sign() == 0 {
			continue
		}
		return NewKeyPair(&PrivateKey{scalar: sk}), nil
	}
}

// GenerateKeyPairFromSeed derives a deterministic key pair from a seed of at least 32 bytes.
func GenerateKeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	kdf := hkdf.New(sha256.New, seed, nil, []byte("BN254-SeedGeneration"))
	keyBytes := make([]byte, 32)
	if _, err := kdf.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("failed to derive key from seed: %w", err)
	}

	sk := new(big.Int).SetBytes(keyBytes)
	sk.Mod(sk, fr.Modulus())
	if sk.Sign() == 0 {
		sk.SetInt64(1)
	}
	return NewKeyPair(&PrivateKey{scalar: sk}), nil
}

// AggregateG1 sums the given points; an empty input yields the zero point.
func AggregateG1(points []*G1Point) *G1Point {
	acc := new(bn254.G1Jac)
	for _, p := range points {
		var tmp bn254.G1Jac
		tmp.FromAffine(p.G1Affine)
		acc.AddAssign(&tmp)
	}
	result := new(bn254.G1Affine)
	result.FromJacobian(acc)
	return &G1Point{result}
}

// AggregateG2 sums the given points; an empty input yields the zero point.
func AggregateG2(points []*G2Point) *G2Point {
	acc := new(bn254.G2Jac)
	for _, p := range points {
		var tmp bn254.G2Jac
		tmp.FromAffine(p.G2Affine)
		acc.AddAssign(&tmp)
	}
	result := new(bn254.G2Affine)
	result.FromJacobian(acc)
	return &G2Point{result}
}

func AggregateSignatures(sigs []*Signature) *Signature {
	points := make([]*G1Point, 0, len(sigs))
	for _, s := range sigs {
		points = append(points, s.G1Point)
	}
	return &Signature{AggregateG1(points)}
}

func parseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
