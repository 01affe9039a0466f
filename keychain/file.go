package keychain

import (
	"fmt"
	"os"
)

// ExportToFile writes name's export blob to path (spec.md section
// 4.B's export_keychain taking a file path rather than returning raw
// bytes, matching CoinDB's file-based export convention).
func (s *Store) ExportToFile(name, path string, withPrivate bool) error {
	blob, err := s.Export(name, withPrivate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return fmt.Errorf("write keychain export %s: %w", path, err)
	}
	return nil
}

// ImportFromFile reads a blob from path and imports it.
func (s *Store) ImportFromFile(path string, wantPrivKeys bool) (*Keychain, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keychain export %s: %w", path, err)
	}
	return s.Import(blob, wantPrivKeys)
}
