package nexus

// #region signature

// Signature is a fixed-length discretized encoding of nexus membership
// over the sorted processor registry: one '1' or '0' per processor. Used
// as the pattern-store lookup key.
type Signature string

// SignatureFor encodes a member set against the registry.
func SignatureFor(members []string, registry []string) Signature {
	memberSet := make(map[string]bool, len(members))
	for _, m := range members {
		memberSet[m] = true
	}
	buf := make([]byte, len(registry))
	for i, id := range registry {
		if memberSet[id] {
			buf[i] = '1'
		} else {
			buf[i] = '0'
		}
	}
	return Signature(buf)
}

// EmptySignature encodes the no-coalition case for a registry.
func EmptySignature(registry []string) Signature {
	return SignatureFor(nil, registry)
}

// Neighbors returns every signature within Hamming distance 1, used for
// fuzzy pattern-store lookup.
func (s Signature) Neighbors() []Signature {
	out := make([]Signature, 0, len(s))
	for i := 0; i < len(s); i++ {
		buf := []byte(s)
		if buf[i] == '1' {
			buf[i] = '0'
		} else {
			buf[i] = '1'
		}
		out = append(out, Signature(buf))
	}
	return out
}

// Members decodes the signature back into processor IDs.
func (s Signature) Members(registry []string) []string {
	var members []string
	for i := 0; i < len(s) && i < len(registry); i++ {
		if s[i] == '1' {
			members = append(members, registry[i])
		}
	}
	return members
}

// #endregion signature
