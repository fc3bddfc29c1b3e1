package imap

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wesm/inboxsweep/internal/fileutil"
)

// ErrNoCredentials is returned when no password was saved for an account.
var ErrNoCredentials = errors.New("no saved IMAP password")

// savedPassword is the on-disk form. The account is stored alongside the
// password so a hash collision cannot hand one account another's secret.
type savedPassword struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

func credentialsPath(tokensDir, identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return filepath.Join(tokensDir, "imap_"+hex.EncodeToString(sum[:8])+".json")
}

// SaveCredentials stores the password for the account identifier in the
// tokens directory with owner-only permissions.
func SaveCredentials(tokensDir, identifier, password string) error {
	data, err := json.Marshal(savedPassword{Account: identifier, Password: password})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := fileutil.WritePrivate(credentialsPath(tokensDir, identifier), data); err != nil {
		return fmt.Errorf("save credentials for %s: %w", identifier, err)
	}
	return nil
}

// LoadCredentials returns the password saved by SaveCredentials.
func LoadCredentials(tokensDir, identifier string) (string, error) {
	data, err := os.ReadFile(credentialsPath(tokensDir, identifier))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w for %s (set imap.password_env or run 'add-account --imap')", ErrNoCredentials, identifier)
	}
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	var saved savedPassword
	if err := json.Unmarshal(data, &saved); err != nil {
		return "", fmt.Errorf("decode credentials: %w", err)
	}
	if saved.Account != identifier {
		return "", fmt.Errorf("%w for %s", ErrNoCredentials, identifier)
	}
	return saved.Password, nil
}
