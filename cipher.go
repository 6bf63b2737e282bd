package lidgren

// MessageTransform lets a host application encrypt/authenticate a
// message's payload bytes before they hit the wire and reverse the
// transform on receipt. The library ships no concrete implementation:
// payload encryption is explicitly out of scope (spec.md Non-goals),
// left to a collaborating package the embedder supplies.
type MessageTransform interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}
