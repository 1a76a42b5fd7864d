package store

import (
	"encoding/json"
	"os"
	"strings"
)

// tokenFile is the on-disk shape of the token store.
type tokenFile struct {
	APIToken string `json:"api_token"`
}

// LoadToken reads the API token from path. Returns "" when absent.
func LoadToken(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return ""
	}
	return strings.TrimSpace(tf.APIToken)
}

// SaveToken persists the API token atomically.
func SaveToken(path, token string) error {
	data, err := json.MarshalIndent(tokenFile{APIToken: token}, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, data)
}

// EnsureToken resolves the API token: environment first, then the token
// file, then the prompt function. A token obtained from the prompt is
// persisted for next time.
func EnsureToken(path, envVar string, prompt func() (string, error)) (string, error) {
	if tok := strings.TrimSpace(os.Getenv(envVar)); tok != "" {
		return tok, nil
	}
	if tok := LoadToken(path); tok != "" {
		return tok, nil
	}

	for {
		tok, err := prompt()
		if err != nil {
			return "", err
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if err := SaveToken(path, tok); err != nil {
			return "", err
		}
		return tok, nil
	}
}
