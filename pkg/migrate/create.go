package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes <dir>/<version>_<name>.sql. The version is the
// current UTC time, bumped past the newest existing migration so files made
// within the same second still sort in creation order.
func CreateSQLMigration(dir string, name string) (string, error) {
	return createSQLMigration(dir, name, time.Now)
}

func createSQLMigration(dir, name string, now func() time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	safe := sanitizeName(name)
	if safe == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	latest, err := latestVersion(dir)
	if err != nil {
		return "", err
	}
	version, _ := strconv.ParseInt(now().UTC().Format(versionLayout), 10, 64)
	if version <= latest {
		next, err := nextVersion(latest)
		if err != nil {
			return "", err
		}
		version = next
	}

	fullpath := filepath.Join(dir, fmt.Sprintf("%d_%s.sql", version, safe))
	f, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", fullpath, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, migrationTemplate, safe); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}

func sanitizeName(name string) string {
	safe := strings.ToLower(strings.TrimSpace(name))
	safe = strings.ReplaceAll(safe, " ", "_")
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	return strings.Trim(safe, "_")
}

// nextVersion is one second after v, kept in the timestamp layout.
func nextVersion(v int64) (int64, error) {
	t, err := time.Parse(versionLayout, strconv.FormatInt(v, 10))
	if err != nil {
		return 0, fmt.Errorf("latest migration version %d is not a timestamp: %w", v, err)
	}
	return strconv.ParseInt(t.Add(time.Second).Format(versionLayout), 10, 64)
}
