package credential

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenURI = "https://oauth2.googleapis.com/token"

// ServiceAccount is the identity the assertion is signed for.
type ServiceAccount struct {
	ProjectID    string
	ClientEmail  string
	PrivateKeyID string
	TokenURI     string
	PrivateKey   *rsa.PrivateKey
}

type serviceAccountFile struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// ParseServiceAccount decodes a service-account JSON key.
func ParseServiceAccount(raw []byte) (*ServiceAccount, error) {
	var f serviceAccountFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode service account: %w", err)
	}
	if f.Type != "" && f.Type != "service_account" {
		return nil, fmt.Errorf("unexpected credential type %q", f.Type)
	}
	if strings.TrimSpace(f.ClientEmail) == "" {
		return nil, fmt.Errorf("service account client_email is required")
	}
	if strings.TrimSpace(f.PrivateKey) == "" {
		return nil, fmt.Errorf("service account private_key is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(f.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	tokenURI := f.TokenURI
	if tokenURI == "" {
		tokenURI = defaultTokenURI
	}
	return &ServiceAccount{
		ProjectID:    f.ProjectID,
		ClientEmail:  f.ClientEmail,
		PrivateKeyID: f.PrivateKeyID,
		TokenURI:     tokenURI,
		PrivateKey:   key,
	}, nil
}

// LoadServiceAccountFile reads and parses a service-account key from disk.
func LoadServiceAccountFile(path string) (*ServiceAccount, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account: %w", err)
	}
	return ParseServiceAccount(raw)
}
