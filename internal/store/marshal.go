package store

import (
	"encoding/json"
	"fmt"

	"github.com/geoffreylitt/hypermerge/internal/ir"
)

// marshalChange renders a change as JSON TEXT for storage.
func marshalChange(c ir.Change) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal change %s: %w", c.Hash, err)
	}
	return string(data), nil
}

// unmarshalChange parses a stored change and checks its hash against the
// row's hash column. Values decode through ir.UnmarshalValue, which keeps
// integers exact.
func unmarshalChange(hash ir.Hash, data string) (ir.Change, error) {
	var c ir.Change
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return ir.Change{}, fmt.Errorf("unmarshal change %s: %w", hash, err)
	}
	got, err := ir.ChangeHash(c)
	if err != nil {
		return ir.Change{}, fmt.Errorf("rehash change %s: %w", hash, err)
	}
	if got != hash || c.Hash != hash {
		return ir.Change{}, fmt.Errorf("%w: change %s hashes to %s", ErrCorrupt, hash, got)
	}
	return c, nil
}
