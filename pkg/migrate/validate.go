package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

type migrationFile struct {
	version int64
	name    string
	path    string
}

// scanDir lists the SQL migrations in dir ordered by version. Filenames that
// do not follow <YYYYMMDDHHMMSS>_<name>.sql and duplicate versions fail.
func scanDir(dir string) ([]migrationFile, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[int64]string{}
	var files []migrationFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		version, _ := strconv.ParseInt(m[1], 10, 64)
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %d in %q and %q", version, prev, name)
		}
		seen[version] = name
		files = append(files, migrationFile{version: version, name: name, path: filepath.Join(dir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// ValidateDir checks filenames and that every migration has both goose
// sections. An empty directory is valid.
func ValidateDir(dir string) error {
	files, err := scanDir(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		b, err := os.ReadFile(f.path)
		if err != nil {
			return fmt.Errorf("read file %q: %w", f.path, err)
		}
		txt := string(b)
		up := strings.Index(txt, "-- +goose Up")
		down := strings.Index(txt, "-- +goose Down")
		switch {
		case up < 0:
			return fmt.Errorf("migration %q missing \"-- +goose Up\"", f.name)
		case down < 0:
			return fmt.Errorf("migration %q missing \"-- +goose Down\"", f.name)
		case down < up:
			return fmt.Errorf("migration %q has its Down section before Up", f.name)
		}
	}
	return nil
}

// latestVersion is 0 for an empty directory.
func latestVersion(dir string) (int64, error) {
	files, err := scanDir(dir)
	if err != nil || len(files) == 0 {
		return 0, err
	}
	return files[len(files)-1].version, nil
}
