package password

import "errors"

// Chain hashes with a primary hasher and verifies digests produced by any of
// its registered algorithms.
type Chain struct {
	primary   Hasher
	primaryID Algorithm
	verifiers map[Algorithm]Hasher
}

// NewChain builds a Chain. primaryID names the algorithm primary produces;
// legacy maps additional algorithms to hashers able to verify them.
func NewChain(primaryID Algorithm, primary Hasher, legacy map[Algorithm]Hasher) (*Chain, error) {
	if primary == nil || primaryID == AlgorithmUnknown {
		return nil, errors.New("password chain requires a primary hasher")
	}
	verifiers := make(map[Algorithm]Hasher, len(legacy)+1)
	for id, h := range legacy {
		if h == nil || id == AlgorithmUnknown {
			continue
		}
		verifiers[id] = h
	}
	verifiers[primaryID] = primary
	return &Chain{primary: primary, primaryID: primaryID, verifiers: verifiers}, nil
}

// Hash delegates to the primary hasher.
func (c *Chain) Hash(plaintext string) (string, error) {
	return c.primary.Hash(plaintext)
}

// Verify dispatches on the digest prefix. Unknown algorithms verify as false.
func (c *Chain) Verify(plaintext, digest string) bool {
	h, ok := c.verifiers[Identify(digest)]
	if !ok {
		return false
	}
	return h.Verify(plaintext, digest)
}

// NeedsUpgrade is true for digests not produced by the primary algorithm or
// produced with weaker primary parameters.
func (c *Chain) NeedsUpgrade(digest string) bool {
	if Identify(digest) != c.primaryID {
		return true
	}
	return c.primary.NeedsUpgrade(digest)
}
