package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"bluff-master/internal/logger"
)

var (
	namePattern    = regexp.MustCompile(`^[a-z0-9_]+$`)
	versionPattern = regexp.MustCompile(`^(\d+)_.+\.(up|down)\.sql$`)
)

func main() {
	name := flag.String("name", "", "migration name (lowercase, underscores)")
	dir := flag.String("dir", filepath.Join("db", "migrations"), "migrations directory")
	flag.Parse()

	log := logger.New("info", "console")
	slug := strings.ToLower(strings.TrimSpace(*name))
	if slug == "" {
		log.Fatal().Msg("migration name is required")
	}
	if !namePattern.MatchString(slug) {
		log.Fatal().Str("name", *name).Msg("migration name may only contain letters, digits and underscores")
	}

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create migrations dir")
	}
	version, err := nextVersion(*dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *dir).Msg("scan migrations")
	}

	base := fmt.Sprintf("%06d_%s", version, slug)
	upPath := filepath.Join(*dir, base+".up.sql")
	downPath := filepath.Join(*dir, base+".down.sql")
	if err := writeFile(upPath, "BEGIN;\n\nCOMMIT;\n"); err != nil {
		log.Fatal().Err(err).Msg("create up migration")
	}
	if err := writeFile(downPath, "BEGIN;\n\nCOMMIT;\n"); err != nil {
		log.Fatal().Err(err).Msg("create down migration")
	}
	log.Info().Int("version", version).Str("up", upPath).Str("down", downPath).Msg("created migration")
}

// nextVersion returns one past the highest sequence number in dir.
func nextVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, entry := range entries {
		match := versionPattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, fmt.Errorf("parse version of %s: %w", entry.Name(), err)
		}
		highest = max(highest, n)
	}
	return highest + 1, nil
}

func writeFile(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists: %s", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
