package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// ReplayWindow is how far a timestamped signature may drift from now.
const ReplayWindow = 300 * time.Second

// VerifySignature checks that body was signed with secret.
//
// Two header shapes are accepted:
//
//	t=<unix_seconds>,s=<hex>   HMAC-SHA256(secret, "{t}.{body}"), rejected
//	                           outside the replay window even when the
//	                           signature matches
//	sha256=<hex> or bare <hex> HMAC-SHA256(secret, body)
//
// No header and no secret means signing is not configured for the channel and
// the request is allowed through. A header with no secret, or a secret with
// no header, is a failure.
func VerifySignature(body []byte, sigHeader, secret string) bool {
	return verifySignatureAt(body, sigHeader, secret, time.Now())
}

func verifySignatureAt(body []byte, sigHeader, secret string, now time.Time) bool {
	sigHeader = strings.TrimSpace(sigHeader)
	if sigHeader == "" && secret == "" {
		return true
	}
	if sigHeader == "" || secret == "" {
		return false
	}

	if strings.Contains(sigHeader, "t=") && strings.Contains(sigHeader, "s=") {
		return verifyTimestamped(body, sigHeader, secret, now)
	}
	return verifyDirect(body, sigHeader, secret)
}

// verifyTimestamped handles the "t=...,s=..." scheme. Malformed parts are a
// failure, never a fallback to the direct scheme.
func verifyTimestamped(body []byte, sigHeader, secret string, now time.Time) bool {
	var tsPart, sigPart string
	for _, part := range strings.Split(sigHeader, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			tsPart = strings.TrimPrefix(part, "t=")
		case strings.HasPrefix(part, "s="):
			sigPart = strings.TrimPrefix(part, "s=")
		}
	}
	if tsPart == "" || sigPart == "" {
		return false
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return false
	}
	drift := now.Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(ReplayWindow.Seconds()) {
		return false
	}

	sigPart = strings.TrimPrefix(sigPart, "sha256=")
	expected, err := hex.DecodeString(sigPart)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(tsPart))
	mac.Write([]byte("."))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// verifyDirect handles "sha256=<hex>" and bare hex digests.
func verifyDirect(body []byte, sigHeader, secret string) bool {
	sigHeader = strings.TrimPrefix(sigHeader, "sha256=")
	expected, err := hex.DecodeString(sigHeader)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign produces the direct-scheme header value for body. Used by tests and by
// the local delivery simulator.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// SignTimestamped produces the timestamped-scheme header value for body.
func SignTimestamped(body []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return "t=" + ts + ",s=" + hex.EncodeToString(mac.Sum(nil))
}
