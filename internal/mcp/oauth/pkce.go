package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// GenerateCodeVerifier generates a random code verifier for PKCE
// The code verifier is a cryptographically random string using the characters [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~"
// with a minimum length of 43 characters and a maximum length of 128 characters.
func GenerateCodeVerifier() (string, error) {
	// 32 bytes encode to 43 characters
	return randomToken(32)
}

// GenerateCodeChallenge generates the code challenge from a code verifier using S256 method
// S256: code_challenge = BASE64URL(SHA256(ASCII(code_verifier)))
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyCodeChallenge reports whether verifier hashes to challenge under S256.
// The comparison is constant time.
func VerifyCodeChallenge(verifier, challenge string) bool {
	computed := GenerateCodeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidateCodeChallengeFormat checks that challenge is an encoded SHA-256
// digest: 43 characters of the unpadded base64url alphabet.
func ValidateCodeChallengeFormat(challenge string) error {
	if challenge == "" {
		return fmt.Errorf("code_challenge is required")
	}
	if len(challenge) != CodeChallengeLength {
		return fmt.Errorf("code_challenge must be %d characters, got %d", CodeChallengeLength, len(challenge))
	}
	for i := 0; i < len(challenge); i++ {
		if !isBase64URLChar(challenge[i]) {
			return fmt.Errorf("code_challenge contains invalid character at position %d", i)
		}
	}
	return nil
}

// ValidateCodeChallengeMethod accepts S256 and the empty default.
func ValidateCodeChallengeMethod(method string) error {
	if method == "" || method == CodeChallengeMethodS256 {
		return nil
	}
	return fmt.Errorf("unsupported code_challenge_method %q (only %s is supported)", method, CodeChallengeMethodS256)
}

// ValidateCodeVerifierFormat checks length and alphabet per RFC 7636 section 4.1.
func ValidateCodeVerifierFormat(verifier string) error {
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be between %d and %d characters", MinCodeVerifierLength, MaxCodeVerifierLength)
	}
	for i := 0; i < len(verifier); i++ {
		c := verifier[i]
		if !isBase64URLChar(c) && c != '.' && c != '~' {
			return fmt.Errorf("code_verifier contains invalid character at position %d", i)
		}
	}
	return nil
}

func isBase64URLChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

// GenerateAuthorizationCode generates a random authorization code
func GenerateAuthorizationCode() (string, error) {
	return randomToken(32)
}

// GenerateState generates a random state parameter for CSRF protection
func GenerateState() (string, error) {
	return randomToken(16)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
