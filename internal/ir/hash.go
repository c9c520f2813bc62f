package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix enables future format migration.
const (
	DomainChange = "hypermerge/change/v" + FormatVersion
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ChangeHash computes the content hash of a change. The Hash field itself is
// excluded; deps are hashed in sorted order so dependency order is not
// significant.
func ChangeHash(c Change) (Hash, error) {
	deps := make(List, 0, len(c.Deps))
	for _, d := range SortHashes(c.Deps) {
		deps = append(deps, String(d))
	}

	ops := make(List, 0, len(c.Ops))
	for i, op := range c.Ops {
		pred := make(List, 0, len(op.Pred))
		for _, p := range op.Pred {
			pred = append(pred, String(p.String()))
		}
		o := Map{
			"action": String(op.Action),
			"key":    String(op.Key),
			"pred":   pred,
		}
		if op.Action == ActionSet {
			if op.Value == nil {
				return "", fmt.Errorf("ChangeHash: op %d sets %q without a value", i, op.Key)
			}
			o["value"] = op.Value
		}
		ops = append(ops, o)
	}

	obj := Map{
		"actor":    String(c.Actor),
		"seq":      Int(c.Seq),
		"start_op": Int(c.StartOp),
		"deps":     deps,
		"message":  String(c.Message),
		"ops":      ops,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ChangeHash: failed to marshal: %w", err)
	}
	return Hash(hashWithDomain(DomainChange, canonical)), nil
}

// MustChangeHash is like ChangeHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustChangeHash(c Change) Hash {
	h, err := ChangeHash(c)
	if err != nil {
		panic(err)
	}
	return h
}

// Seal returns a copy of c with its Hash field computed.
func Seal(c Change) (Change, error) {
	h, err := ChangeHash(c)
	if err != nil {
		return Change{}, err
	}
	c.Hash = h
	return c, nil
}
