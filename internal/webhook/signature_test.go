package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignatureDirect(t *testing.T) {
	body := []byte(`{"events":[{"id":"1"}]}`)
	secret := "shhh"

	sig := Sign(body, secret)
	assert.True(t, VerifySignature(body, sig, secret))

	// bare hex without the sha256= prefix is accepted too
	assert.True(t, VerifySignature(body, sig[len("sha256="):], secret))

	// flipping any byte of the body invalidates the signature
	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		assert.False(t, VerifySignature(mutated, sig, secret), "byte %d", i)
	}

	assert.False(t, VerifySignature(body, sig, "wrong-secret"))
	assert.False(t, VerifySignature(body, "sha256=not-hex", secret))
}

func TestVerifySignatureTimestamped(t *testing.T) {
	body := []byte(`{"message":"hi"}`)
	secret := "shhh"
	now := time.Now()

	sig := SignTimestamped(body, secret, now)
	assert.True(t, verifySignatureAt(body, sig, secret, now))
	assert.True(t, verifySignatureAt(body, sig, secret, now.Add(4*time.Minute)))
}

func TestVerifySignatureReplayWindow(t *testing.T) {
	body := []byte(`{"message":"hi"}`)
	secret := "shhh"
	now := time.Now()

	// a correctly signed payload outside the window is rejected
	stale := SignTimestamped(body, secret, now.Add(-6*time.Minute))
	assert.False(t, verifySignatureAt(body, stale, secret, now))

	future := SignTimestamped(body, secret, now.Add(6*time.Minute))
	assert.False(t, verifySignatureAt(body, future, secret, now))
}

func TestVerifySignatureMalformedTimestamp(t *testing.T) {
	body := []byte(`{}`)
	secret := "shhh"

	// malformed t/s parts fail outright, they do not fall back to the
	// direct scheme
	assert.False(t, VerifySignature(body, "t=abc,s="+Sign(body, secret), secret))
	assert.False(t, VerifySignature(body, "t=,s=deadbeef", secret))
	assert.False(t, VerifySignature(body, "t=123,s=", secret))
}

func TestVerifySignatureLenientDefault(t *testing.T) {
	body := []byte(`{}`)

	// no header and no secret: signing is not configured, allow
	assert.True(t, VerifySignature(body, "", ""))

	// half-configured setups are failures
	assert.False(t, VerifySignature(body, "", "secret"))
	assert.False(t, VerifySignature(body, Sign(body, "secret"), ""))
}
