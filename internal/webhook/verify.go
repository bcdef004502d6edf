package webhook

import "net/http"

// Verifier handles the platform's GET subscription handshake. Stateless;
// runs once per handshake during app configuration, not per message.
type Verifier struct {
	expectedToken string
}

func NewVerifier(expectedToken string) *Verifier {
	return &Verifier{expectedToken: expectedToken}
}

// Check evaluates one handshake request and returns the response body
// and HTTP status: the literal challenge with 200 when mode is
// "subscribe" and the token matches, 403 on token mismatch, 400 when
// mode or token is absent.
func (v *Verifier) Check(mode, token, challenge string) (string, int) {
	if mode == "" || token == "" {
		return "Bad request", http.StatusBadRequest
	}
	if mode != "subscribe" || token != v.expectedToken {
		return "Invalid verification token", http.StatusForbidden
	}
	return challenge, http.StatusOK
}
