package account

import (
	"fmt"
	"os"
)

// ExportToFile writes acct's export blob to path, the file-based
// convention CoinDB's exportAccount used rather than returning raw
// bytes.
func (s *Store) ExportToFile(acct *Account, path string) error {
	blob, err := s.Export(acct)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return fmt.Errorf("write account export %s: %w", path, err)
	}
	return nil
}

// ImportFromFile reads a blob from path and imports it.
func (s *Store) ImportFromFile(path string) (*Account, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read account export %s: %w", path, err)
	}
	return s.Import(blob)
}
