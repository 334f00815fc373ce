package credential

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "pushdispatch"

// LoadServiceAccountKeyring reads the service-account JSON stored in the
// system keychain under account.
func LoadServiceAccountKeyring(account string) (*ServiceAccount, error) {
	raw, err := keyring.Get(keyringService, account)
	if err != nil {
		return nil, fmt.Errorf("keyring lookup %q: %w", account, err)
	}
	return ParseServiceAccount([]byte(raw))
}

// StoreServiceAccountKeyring validates raw and saves it in the system keychain.
func StoreServiceAccountKeyring(account string, raw []byte) error {
	if _, err := ParseServiceAccount(raw); err != nil {
		return err
	}
	return keyring.Set(keyringService, account, string(raw))
}
