package preview

import (
	"fmt"
	"net/netip"
	"strings"
)

// normalizeAllowlist parses every entry as an address or CIDR prefix and
// returns the canonical text forms, deduplicated in input order.
func normalizeAllowlist(entries []string) ([]string, error) {
	out := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, raw := range entries {
		entry, err := normalizeEntry(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out, nil
}

func normalizeEntry(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return "", fmt.Errorf("%w: ip allowlist entry %q", ErrInvalidOverride, raw)
		}
		return prefix.Masked().String(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", fmt.Errorf("%w: ip allowlist entry %q", ErrInvalidOverride, raw)
	}
	return addr.Unmap().String(), nil
}
