// Package migrations holds the SQL schema for the message store.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

//go:embed *.sql
var embedded embed.FS

var (
	// MigrationsDir overrides the embedded scripts when set. Tests and
	// operators with a customized schema point it at a directory of *.sql files.
	MigrationsDir = ""
)

// Script is one ordered schema file.
type Script struct {
	Name string
	SQL  string
}

// GetSchemaScripts returns every migration script in file-name order.
func GetSchemaScripts() ([]Script, error) {
	var fsys fs.FS = embedded
	if MigrationsDir != "" {
		fsys = os.DirFS(MigrationsDir)
	}

	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("could not find schema files")
	}
	sort.Strings(names)

	scripts := make([]Script, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		scripts = append(scripts, Script{Name: name, SQL: string(content)})
	}
	return scripts, nil
}

// GetInitialSchema returns all scripts joined into one executable string.
func GetInitialSchema() (string, error) {
	scripts, err := GetSchemaScripts()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, s := range scripts {
		b.WriteString(s.SQL)
		b.WriteString("\n")
	}
	return b.String(), nil
}
