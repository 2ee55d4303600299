package enrollment

import (
	"crypto/rand"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// TempCredentialLength is the length of generated temporary passwords.
const TempCredentialLength = 12

// Ambiguous glyphs (0/O, 1/l/I) are left out; parents type these from an email.
const credentialAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CredentialIssuer generates a temporary credential and the hash to persist.
type CredentialIssuer interface {
	Issue() (plain, hash string, err error)
}

// BcryptIssuer issues random credentials hashed with bcrypt.
type BcryptIssuer struct {
	Cost int
}

// NewBcryptIssuer returns an issuer; cost 0 means bcrypt.DefaultCost.
func NewBcryptIssuer(cost int) *BcryptIssuer {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptIssuer{Cost: cost}
}

func (b *BcryptIssuer) Issue() (string, string, error) {
	plain, err := GenerateTempCredential(TempCredentialLength)
	if err != nil {
		return "", "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), b.Cost)
	if err != nil {
		return "", "", err
	}
	return plain, string(hash), nil
}

// VerifyCredential reports whether plain matches a hash produced by Issue.
func VerifyCredential(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// GenerateTempCredential returns n characters drawn from crypto/rand.
func GenerateTempCredential(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(credentialAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = credentialAlphabet[idx.Int64()]
	}
	return string(out), nil
}
