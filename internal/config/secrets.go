package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a secret value using the *_FILE convention.
// If envName+"_FILE" is set, the secret is read from that file path and
// trimmed. Otherwise the value of envName is returned, possibly empty.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from %s=%s: %w", fileEnv, filePath, err)
		}
		return strings.TrimSpace(string(content)), nil
	}

	return os.Getenv(envName), nil
}

// ResolveCredentials resolves a user/password pair, e.g. SMOKERS_ADMIN_USER
// and SMOKERS_ADMIN_PASS for prefix "SMOKERS_ADMIN".
func ResolveCredentials(prefix string) (user, pass string, err error) {
	user, err = ResolveSecret(prefix + "_USER")
	if err != nil {
		return "", "", err
	}
	pass, err = ResolveSecret(prefix + "_PASS")
	if err != nil {
		return "", "", err
	}
	return user, pass, nil
}
