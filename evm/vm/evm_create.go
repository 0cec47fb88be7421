package vm

import "errors"

// ErrCreateNonceOverflow is returned when a CREATE would push the sender's
// nonce past MaxNonce.
var ErrCreateNonceOverflow = errors.New("create: sender nonce overflow")

// MaxNonce is the maximum value for an account nonce (2^64 - 2), reserving
// 2^64 - 1 as a sentinel per EIP-2681.
const MaxNonce = ^uint64(0) - 1

// CheckNonceOverflow returns an error if the nonce is at or above MaxNonce,
// rejecting the CREATE/transaction before a nonce incremented past MaxNonce
// could wrap or collide.
func CheckNonceOverflow(nonce uint64) error {
	if nonce >= MaxNonce {
		return ErrCreateNonceOverflow
	}
	return nil
}
