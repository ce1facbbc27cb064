package policy

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/defi-adapters/internal/errors"
)

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// CheckProtocolAllowed gates protocol verbs on the configured protocol allowlist.
func CheckProtocolAllowed(allowlist []string, protocol string) error {
	if len(allowlist) == 0 {
		return nil
	}
	for _, allowed := range allowlist {
		if normalize(allowed) == normalize(protocol) {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, fmt.Sprintf("protocol %s blocked by --enable-protocols policy", protocol))
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
