package adminhttp_test

import (
	"crypto/rand"
	"crypto/rsa"
)

func newTestKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}
