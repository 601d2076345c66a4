package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dmitrijs2005/quickide/internal/filex"
)

func loadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errNotLoggedIn
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", errNotLoggedIn
	}
	return token, nil
}

func saveToken(path, token string) error {
	if err := filex.WriteFileAtomic(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func removeToken(path string) error {
	return filex.RemoveIfExists(path)
}
