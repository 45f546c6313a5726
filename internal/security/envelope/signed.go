package envelope

import (
	"fmt"
	"time"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
	"github.com/dropDatabas3/v2xsec/internal/security/codec"
)

// Payload is what a SignedData signs: inline bytes (carried as an embedded
// unsecured message) or the hash of externally carried data.
type Payload struct {
	inline []byte
	ext    *HashedData
}

// InlineData builds an inline payload.
func InlineData(b []byte) Payload { return Payload{inline: append([]byte{}, b...)} }

// ExternalHash builds a payload that signs only the digest of data carried
// elsewhere.
func ExternalHash(alg backend.HashAlgorithm, digest []byte) Payload {
	return Payload{ext: &HashedData{Algorithm: alg, Digest: append([]byte(nil), digest...)}}
}

// SignedData is a signed message whose payload decodes to the protocol
// message marked by T. T only exists at compile time.
type SignedData[T any] struct {
	wire SignedDataWire
}

// New builds a self-signed envelope over payload with a placeholder
// signature for curve. The caller signs it afterwards with SetSignature.
func New[T any](payload Payload, psid backend.Aid, generated time.Time, curve backend.Curve) *SignedData[T] {
	gen := backend.Time64From(generated)
	sd := &SignedData[T]{wire: SignedDataWire{
		HashID: curve.Hash(),
		TBSData: ToBeSignedData{
			HeaderInfo: HeaderInfo{Psid: psid, GenerationTime: &gen},
		},
		Signer:    SelfSigner(),
		Signature: backend.PlaceholderSignature(curve),
	}}
	if payload.inline != nil {
		d := Unsecured(payload.inline)
		sd.wire.TBSData.Payload.Data = &d
	}
	if payload.ext != nil {
		h := *payload.ext
		sd.wire.TBSData.Payload.ExtDataHash = &h
	}
	return sd
}

// FromBytes parses raw as a signed message.
func FromBytes[T any](raw []byte) (*SignedData[T], error) {
	d, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return FromData[T](d)
}

// FromData extracts the signed content of an already decoded message.
func FromData[T any](d *Data) (*SignedData[T], error) {
	if d.Content.Kind != ContentSigned || d.Content.Signed == nil {
		return nil, ErrNotSigned
	}
	return &SignedData[T]{wire: *d.Content.Signed}, nil
}

// AsData wraps the envelope as a message.
func (s *SignedData[T]) AsData() Data {
	w := s.wire
	return Data{ProtocolVersion: ProtocolVersion, Content: Content{Kind: ContentSigned, Signed: &w}}
}

// AsBytes serializes the envelope as a message.
func (s *SignedData[T]) AsBytes() ([]byte, error) {
	d := s.AsData()
	return d.Encode()
}

// Data returns the inline payload bytes.
func (s *SignedData[T]) Data() ([]byte, error) {
	d := s.wire.TBSData.Payload.Data
	if d == nil {
		return nil, ErrNoData
	}
	if d.Content.Kind != ContentUnsecured {
		return nil, fmt.Errorf("%w: %s", ErrDataContent, d.Content.Kind)
	}
	return d.Content.Unsecured, nil
}

// ExtDataHash returns the external data reference.
func (s *SignedData[T]) ExtDataHash() (HashedData, error) {
	h := s.wire.TBSData.Payload.ExtDataHash
	if h == nil {
		return HashedData{}, ErrNoData
	}
	return *h, nil
}

func (s *SignedData[T]) HeaderInfo() HeaderInfo { return s.wire.TBSData.HeaderInfo }

func (s *SignedData[T]) Signer() SignerIdentifier { return s.wire.Signer }

// SetSigner replaces the signer identifier. Call it before signing.
func (s *SignedData[T]) SetSigner(id SignerIdentifier) { s.wire.Signer = id }

// Signature returns the signature after checking that the declared hash id
// agrees with the algorithm of the signature variant.
func (s *SignedData[T]) Signature() (backend.Signature, error) {
	sig := s.wire.Signature
	if sig.Hash() != s.wire.HashID {
		return backend.Signature{}, fmt.Errorf("%w: hash id %s, signature %s",
			ErrHashAlgorithmMismatch, s.wire.HashID, sig.Hash())
	}
	return sig, nil
}

// SetSignature stores sig in canonical form and aligns the hash id with it.
func (s *SignedData[T]) SetSignature(sig backend.Signature) {
	s.wire.Signature = sig.Canonical()
	s.wire.HashID = sig.Hash()
}

// HashAlgorithm is the declared hash id.
func (s *SignedData[T]) HashAlgorithm() backend.HashAlgorithm { return s.wire.HashID }

// ToBeSignedBytes encodes the signed portion.
func (s *SignedData[T]) ToBeSignedBytes() ([]byte, error) {
	return codec.Marshal(s.wire.TBSData)
}
