package security

import (
	"sync"
	"time"
)

var testKeys struct {
	once      sync.Once
	priv, pub string
	err       error
}

// NewTestTokenProvider returns an ES256 TokenProvider on a process-wide throwaway key pair.
// Only for tests in this and dependent packages.
func NewTestTokenProvider(nowF func() time.Time) (*TokenProvider, error) {
	testKeys.once.Do(func() {
		testKeys.priv, testKeys.pub, testKeys.err = GenerateKeyPair(AlgES256)
	})
	if testKeys.err != nil {
		return nil, testKeys.err
	}
	signer, pub, err := LoadKeyPair(testKeys.priv, testKeys.pub)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(signer, pub, "test-issuer", "test-audience", nowF), nil
}
