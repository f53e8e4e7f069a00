package cookie

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/igolaizola/sunobot/pkg/cmd/shared"
	"github.com/igolaizola/sunobot/pkg/generator"
	"github.com/igolaizola/sunobot/pkg/logger"
	"github.com/igolaizola/sunobot/pkg/storage"
)

type Config struct {
	shared.Config

	Cookie string
	Remark string
	// Input is a csv or json file with fields (content,remark), or a text
	// file with one cookie per line.
	Input string
}

type Entry struct {
	Content string `csv:"content" json:"content"`
	Remark  string `csv:"remark" json:"remark"`
}

// Stats counts the outcome of an import.
type Stats struct {
	Added   int
	Exists  int
	Invalid int
}

// Run adds a single cookie or imports them from a file.
func Run(ctx context.Context, cfg *Config) error {
	log := logger.New(cfg.Debug)

	var entries []*Entry
	if cfg.Cookie != "" {
		entries = append(entries, &Entry{Content: cfg.Cookie, Remark: cfg.Remark})
	}
	if cfg.Input != "" {
		es, err := readInput(cfg.Input)
		if err != nil {
			return fmt.Errorf("cookie: %w", err)
		}
		entries = append(entries, es...)
	}
	if len(entries) == 0 {
		return errors.New("cookie: cookie or input is required")
	}

	store, err := shared.OpenStore(ctx, &cfg.Config)
	if err != nil {
		return fmt.Errorf("cookie: %w", err)
	}
	defer func() { _ = store.Stop() }()

	gen := generator.New(&generator.Config{
		Store:           store,
		Logger:          log,
		DefaultQuota:    cfg.Quota,
		DefaultLifetime: cfg.Lifetime,
	})
	stats, err := Import(ctx, gen, store, entries)
	log.Info("cookie: import finished", "added", stats.Added, "exists", stats.Exists, "invalid", stats.Invalid)
	return err
}

type adder interface {
	AddCredential(ctx context.Context, content string) (*storage.Credential, error)
}

type remarker interface {
	SetCredentialRemark(ctx context.Context, id, remark string) error
}

// Import adds the entries skipping invalid and duplicated cookies.
func Import(ctx context.Context, gen adder, store remarker, entries []*Entry) (Stats, error) {
	var stats Stats
	for _, e := range entries {
		c, err := gen.AddCredential(ctx, e.Content)
		switch {
		case errors.Is(err, generator.ErrInvalidCredential):
			stats.Invalid++
			continue
		case errors.Is(err, generator.ErrCredentialExists):
			stats.Exists++
			continue
		case err != nil:
			return stats, fmt.Errorf("cookie: %w", err)
		}
		stats.Added++
		remark := strings.TrimSpace(e.Remark)
		if remark == "" {
			continue
		}
		if err := store.SetCredentialRemark(ctx, c.ID, remark); err != nil {
			return stats, fmt.Errorf("cookie: %w", err)
		}
	}
	return stats, nil
}

func readInput(path string) ([]*Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read input file: %w", err)
	}
	var es []*Entry
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(b, &es); err != nil {
			return nil, fmt.Errorf("couldn't unmarshal json input: %w", err)
		}
	case ".csv":
		if err := gocsv.UnmarshalBytes(b, &es); err != nil {
			return nil, fmt.Errorf("couldn't unmarshal csv input: %w", err)
		}
	default:
		scanner := bufio.NewScanner(bytes.NewReader(b))
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			es = append(es, &Entry{Content: line})
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("couldn't scan input: %w", err)
		}
	}
	return es, nil
}
