package envelope

// SelectDecryptionIdentity returns the first candidate whose fingerprint
// equals target. Matching is exact; nil candidates are skipped. When several
// candidates share the fingerprint the earliest one wins.
func SelectDecryptionIdentity(candidates []*PrivateIdentity, target Fingerprint) (*PrivateIdentity, error) {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if c.fingerprint == target {
			return c, nil
		}
	}
	return nil, ErrNoMatchingKey
}
