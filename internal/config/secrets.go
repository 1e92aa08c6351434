package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "techdigest", "secrets.json")
}

// secretsFile keeps secrets in a 0600 JSON file keyed by config key.
type secretsFile struct {
	path string
}

func newSecretsFile(path string) secretsFile {
	return secretsFile{path: path}
}

func (f secretsFile) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f secretsFile) Get(account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[account]
	if !ok {
		return "", fmt.Errorf("secret %q not found", account)
	}
	return val, nil
}

func (f secretsFile) Set(account, value string) error {
	secrets, err := f.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}
	secrets[account] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

// SetSecret stores a secret in the secrets file.
func SetSecret(key, value string) error {
	for _, s := range specs {
		if s.key == key && s.secret {
			return newSecretsFile(secretsFilePath()).Set(key, value)
		}
	}
	return fmt.Errorf("unknown secret key: %q", key)
}
