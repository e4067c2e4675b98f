package environment

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// RegistryHeader is the header of an acesso.csv credential file.
var RegistryHeader = []string{"ID_USER", "USER", "SENHA"}

var (
	ErrEmptyRegistry   = errors.New("no credentials in registry")
	ErrRegistryColumns = errors.New("registry columns do not match")
)

type Credential struct {
	UserId   string
	Username string
	Password string
}

func readCredentials(r io.Reader) ([]string, []Credential, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToUpper(strings.TrimSpace(h))
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[h] = i
	}
	for _, required := range RegistryHeader {
		if _, ok := idx[required]; !ok {
			return header, nil, fmt.Errorf("%w: missing column %s", ErrRegistryColumns, required)
		}
	}

	creds := make([]Credential, 0, len(rows)-1)
	for _, row := range rows[1:] {
		creds = append(creds, Credential{
			UserId:   row[idx["ID_USER"]],
			Username: row[idx["USER"]],
			Password: row[idx["SENHA"]],
		})
	}
	return header, creds, nil
}

// ReadRegistry reads the credentials stored in a registry file.
func ReadRegistry(path string) ([]Credential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	_, creds, err := readCredentials(f)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	return creds, nil
}

// ReplaceRegistry overwrites the registry at path with the contents of src.
// When a registry already exists the new one must carry the same columns.
func ReplaceRegistry(path string, src io.Reader) error {
	newHeader, creds, err := readCredentials(src)
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		return ErrEmptyRegistry
	}

	existing, err := os.Open(path)
	if err == nil {
		oldHeader, _, readErr := readCredentials(existing)
		existing.Close()
		if readErr != nil && !errors.Is(readErr, ErrRegistryColumns) {
			return readErr
		}
		if !slices.Equal(oldHeader, newHeader) {
			return fmt.Errorf(
				"%w: have %s, got %s",
				ErrRegistryColumns,
				strings.Join(oldHeader, ","), strings.Join(newHeader, ","),
			)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return writeRegistry(path, creds)
}

func writeRegistry(path string, creds []Credential) error {
	err := os.MkdirAll(filepath.Dir(path), 0o700)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	_ = w.Write(RegistryHeader)
	for _, c := range creds {
		_ = w.Write([]string{c.UserId, c.Username, c.Password})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
