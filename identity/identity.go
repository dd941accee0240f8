// Package identity manages the Schnorr key pairs greeters sign their
// submissions with. A greeter is known by the address derived from its public
// key; the private key never leaves the client.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/sign/schnorr"
	"go.dedis.ch/kyber/v4/suites"
	"go.dedis.ch/kyber/v4/util/key"
)

// addressLen is the number of trailing digest bytes kept in an address.
const addressLen = 20

var suite = suites.MustFind("Ed25519")

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidKey       = errors.New("invalid public key")
)

// KeyPair is a Schnorr key pair on Ed25519.
type KeyPair struct {
	Public  kyber.Point
	Private kyber.Scalar
}

type keyFile struct {
	Public  string `json:"public_key"`
	Private string `json:"private_key"`
}

// Generate creates a fresh random key pair.
func Generate() (*KeyPair, error) {
	kp := key.NewKeyPair(suite)
	if kp == nil {
		return nil, errors.New("failed to generate key pair")
	}
	return &KeyPair{Public: kp.Public, Private: kp.Private}, nil
}

// PublicKey returns the marshaled public key.
func (kp *KeyPair) PublicKey() ([]byte, error) {
	return kp.Public.MarshalBinary()
}

// Address returns the address of the key pair owner.
func (kp *KeyPair) Address() (string, error) {
	pub, err := kp.PublicKey()
	if err != nil {
		return "", err
	}
	return Address(pub)
}

// Sign returns a Schnorr signature of msg.
func (kp *KeyPair) Sign(msg []byte) ([]byte, error) {
	return schnorr.Sign(suite, kp.Private, msg)
}

// Save writes the key pair to path as hex encoded JSON, readable by the owner
// only.
func (kp *KeyPair) Save(path string) error {
	pub, err := kp.Public.MarshalBinary()
	if err != nil {
		return err
	}
	priv, err := kp.Private.MarshalBinary()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(keyFile{Public: hex.EncodeToString(pub), Private: hex.EncodeToString(priv)}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Load reads a key pair written by Save and checks that both halves belong
// together.
func Load(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f keyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed key file %s: %w", path, err)
	}

	pub, err := parsePoint(f.Public)
	if err != nil {
		return nil, err
	}
	privBytes, err := hex.DecodeString(f.Private)
	if err != nil {
		return nil, fmt.Errorf("malformed private key: %w", err)
	}
	priv := suite.Scalar()
	if err := priv.UnmarshalBinary(privBytes); err != nil {
		return nil, fmt.Errorf("malformed private key: %w", err)
	}
	if !suite.Point().Mul(priv, nil).Equal(pub) {
		return nil, fmt.Errorf("key file %s: private key does not match public key", path)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Verify checks a signature produced by KeyPair.Sign against a marshaled
// public key.
func Verify(pub, msg, sig []byte) error {
	point := suite.Point()
	if err := point.UnmarshalBinary(pub); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if err := schnorr.Verify(suite, point, msg, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Address derives the address of a marshaled public key: 0x followed by the
// hex encoding of the last 20 bytes of its SHA-256 digest.
func Address(pub []byte) (string, error) {
	if err := suite.Point().UnmarshalBinary(pub); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	digest := sha256.Sum256(pub)
	return "0x" + hex.EncodeToString(digest[len(digest)-addressLen:]), nil
}

// SubmitMessage returns the bytes a greeter signs to submit text. The ledger
// accepts each nonce once per author, so a captured request cannot be
// replayed.
func SubmitMessage(text, nonce string) []byte {
	return []byte("greetme:v1:" + nonce + ":" + text)
}

func parsePoint(s string) (kyber.Point, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	p := suite.Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return p, nil
}
