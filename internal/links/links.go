// Package links reads and maintains the newline separated URL list file.
package links

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/italolelis/auto_ytdlp/internal/logctx"
)

const filePerm = 0o644

// serialises rewrites of links files within the process
var mu sync.Mutex

// Load returns the URLs of the file at path in file order. Lines are trimmed;
// blank lines, "#" comments and duplicates are skipped. A missing or unreadable
// file yields an empty list and a logged warning.
func Load(ctx context.Context, path string) []string {
	logger := logctx.LoggerFromContext(ctx).With("links_file", path)

	mu.Lock()
	defer mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("links file not found")
		} else {
			logger.Warn("failed to open links file", "err", err)
		}

		return []string{}
	}
	defer f.Close()

	urls, err := parse(f)
	if err != nil {
		logger.Warn("failed to read links file", "err", err)
	}

	logger.Debug("loaded links", "count", len(urls))

	return urls
}

func parse(f *os.File) ([]string, error) {
	var (
		urls = []string{}
		seen = make(map[string]struct{})
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if _, ok := seen[line]; ok {
			continue
		}

		seen[line] = struct{}{}
		urls = append(urls, line)
	}

	return urls, scanner.Err()
}

// Remove rewrites the file at path without any line equal to url. The file is
// replaced atomically; a missing file is not an error.
func Remove(path, url string) error {
	url = strings.TrimSpace(url)

	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read links file: %w", err)
	}

	lines := strings.SplitAfter(string(data), "\n")
	kept := lines[:0]
	removed := false

	for _, line := range lines {
		if strings.TrimSpace(line) == url {
			removed = true

			continue
		}

		kept = append(kept, line)
	}

	if !removed {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".links-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary links file: %w", err)
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strings.Join(kept, "")); err != nil {
		tmp.Close()

		return fmt.Errorf("failed to write links file: %w", err)
	}

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()

		return fmt.Errorf("failed to set links file permissions: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write links file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace links file: %w", err)
	}

	return nil
}
