package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// LoadFromVault fetches a single string secret from a Vault KV-v2 secret
// referenced as "mount/path#field" (mount defaults to "secret", field to
// "password"); the KV-v2 "data/" segment is inserted after mount. Address
// and token are taken from the standard VAULT_ADDR / VAULT_TOKEN
// environment variables, matching api.DefaultConfig's own discovery.
//
// This is a best-effort integration: account credentials are only ever
// pulled from Vault when ACCOUNT_PASSWORD_VAULT_PATH is set, and a failure
// here falls back to whatever plaintext password was already resolved from
// file/env (see Load).
func LoadFromVault(path string) (string, error) {
	mount, secretPath, field := splitVaultPath(path)

	client, err := api.NewClient(api.DefaultConfig())
	if err != nil {
		return "", fmt.Errorf("create vault client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	secret, err := client.Logical().ReadWithContext(ctx, fmt.Sprintf("%s/data/%s", mount, secretPath))
	if err != nil {
		return "", fmt.Errorf("read vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault secret %s: not found", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("vault secret %s: unexpected KV format", path)
	}

	value, ok := data[field].(string)
	if !ok {
		return "", fmt.Errorf("vault secret %s: field %q missing or not a string", path, field)
	}
	return value, nil
}

// splitVaultPath parses "mount/path/to/secret#field" into its parts,
// defaulting mount to "secret" and field to "password".
func splitVaultPath(path string) (mount, secretPath, field string) {
	mount = "secret"
	field = "password"

	body := path
	if idx := strings.LastIndexByte(path, '#'); idx >= 0 {
		body = path[:idx]
		field = path[idx+1:]
	}

	if idx := strings.IndexByte(body, '/'); idx >= 0 {
		mount = body[:idx]
		secretPath = body[idx+1:]
	} else {
		secretPath = body
	}
	return mount, secretPath, field
}
