package internal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sensiblebit/keyshare/internal/provider"
)

// DefaultPasswordEnv is the environment variable the reference provider
// reads its password from when no file is given.
const DefaultPasswordEnv = "KEYSHARE_PROVIDER_PASSWORD"

// ErrNoProviderPassword is returned when neither source yields a password.
var ErrNoProviderPassword = errors.New("no provider password configured")

// LoadPasswordFromFile returns the first non-blank line of filename, with
// surrounding whitespace trimmed.
func LoadPasswordFromFile(filename string) (provider.Secret, error) {
	file, err := os.Open(filename)
	if err != nil {
		return provider.Secret{}, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pwd := strings.TrimSpace(scanner.Text()); pwd != "" {
			return provider.NewSecret(pwd), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return provider.Secret{}, err
	}
	return provider.Secret{}, fmt.Errorf("%s: %w", filename, ErrNoProviderPassword)
}

// LoadProviderPassword resolves the password the reference provider vends. A
// password file wins over the environment variable envVar. A variable that
// is set but empty vends the empty password; an unset one is an error.
func LoadProviderPassword(passwordFile, envVar string) (provider.Secret, error) {
	if passwordFile != "" {
		secret, err := LoadPasswordFromFile(passwordFile)
		if err != nil {
			return provider.Secret{}, fmt.Errorf("loading password from file: %w", err)
		}
		return secret, nil
	}
	if envVar == "" {
		envVar = DefaultPasswordEnv
	}
	if v, ok := os.LookupEnv(envVar); ok {
		return provider.NewSecret(v), nil
	}
	return provider.Secret{}, fmt.Errorf("$%s is unset: %w", envVar, ErrNoProviderPassword)
}
