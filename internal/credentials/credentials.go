package credentials

import (
	"fmt"
	"strings"
)

// Default configuration keys holding the Kaggle identity and secret.
const (
	UsernameKey = "KAGGLE_USERNAME"
	KeyKey      = "KAGGLE_KEY"
)

// Lookup is the read side of a configuration store. *viper.Viper satisfies it.
type Lookup interface {
	GetString(key string) string
}

// Credentials authenticate against the source dataset API.
type Credentials struct {
	Username string
	Key      string
}

// ConfigurationError reports credentials that are absent from configuration.
type ConfigurationError struct {
	Missing []string
	Hint    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing credentials %s: %s", strings.Join(e.Missing, ", "), e.Hint)
}

// Resolve reads the identity and secret stored under usernameKey and keyKey.
// Blank values count as missing.
func Resolve(store Lookup, usernameKey, keyKey string) (Credentials, error) {
	creds := Credentials{
		Username: strings.TrimSpace(store.GetString(usernameKey)),
		Key:      strings.TrimSpace(store.GetString(keyKey)),
	}
	if err := creds.check(usernameKey, keyKey); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Validate re-checks an already built value using the default key names in
// the remediation hint.
func (c Credentials) Validate() error {
	return c.check(UsernameKey, KeyKey)
}

func (c Credentials) check(usernameKey, keyKey string) error {
	var missing []string
	if c.Username == "" {
		missing = append(missing, usernameKey)
	}
	if c.Key == "" {
		missing = append(missing, keyKey)
	}
	if len(missing) == 0 {
		return nil
	}
	return &ConfigurationError{
		Missing: missing,
		Hint: fmt.Sprintf("set %s and %s in the environment or the .env file in the working directory",
			usernameKey, keyKey),
	}
}
