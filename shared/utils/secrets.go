package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultSecretsDir = "/run/secrets"

// secretsDir - каталог Docker Secrets, в dev и тестах переопределяется через SECRETS_DIR.
func secretsDir() string {
	if dir := os.Getenv("SECRETS_DIR"); dir != "" {
		return dir
	}
	return defaultSecretsDir
}

// ReadSecret читает секрет из файла Docker Secrets. Пустой файл считается ошибкой.
func ReadSecret(secretName string) (string, error) {
	filePath := filepath.Join(secretsDir(), secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// ReadSecretOr возвращает секрет из Docker Secrets, а если файла нет - fallback.
// Используется для необязательных ключей вендоров, которые в dev задаются через env.
func ReadSecretOr(secretName, fallback string) string {
	if secret, err := ReadSecret(secretName); err == nil {
		return secret
	}
	return fallback
}
