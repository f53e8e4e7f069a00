package sing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/igolaizola/sunobot/pkg/cmd/shared"
	"github.com/igolaizola/sunobot/pkg/generator"
	"github.com/igolaizola/sunobot/pkg/logger"
)

type Config struct {
	shared.Config

	Prompt string
	// Dir is where the songs and their lyrics are saved.
	Dir string
}

// Run generates a song with the next usable cookie.
func Run(ctx context.Context, cfg *Config) error {
	log := logger.New(cfg.Debug)
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return fmt.Errorf("sing: couldn't create output dir: %w", err)
	}

	store, err := shared.OpenStore(ctx, &cfg.Config)
	if err != nil {
		return fmt.Errorf("sing: %w", err)
	}
	defer func() { _ = store.Stop() }()

	fs, err := shared.NewArchive(ctx, &cfg.Config, log)
	if err != nil {
		return fmt.Errorf("sing: %w", err)
	}
	gen, err := shared.NewGenerator(&cfg.Config, store, fs, log)
	if err != nil {
		return fmt.Errorf("sing: %w", err)
	}

	res, err := gen.Generate(ctx, cfg.Prompt, Save(cfg.Dir))
	if err != nil {
		return fmt.Errorf("sing: %w", err)
	}
	log.Info("sing: song saved", "id", res.Song.ID, "name", res.Song.Name, "clips", res.Delivered)
	return nil
}

// Save returns a deliver function that copies the audio to dir along with
// a text file with the lyric.
func Save(dir string) generator.Deliver {
	return func(ctx context.Context, a *generator.Artifact) error {
		dst := filepath.Join(dir, filepath.Base(a.Path))
		if err := copyFile(a.Path, dst); err != nil {
			return err
		}
		if a.Lyric != "" {
			txt := strings.TrimSuffix(dst, filepath.Ext(dst)) + ".txt"
			if err := os.WriteFile(txt, []byte(a.Lyric), 0644); err != nil {
				return fmt.Errorf("sing: couldn't write lyric: %w", err)
			}
		}
		fmt.Println(dst)
		return nil
	}
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("sing: couldn't open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("sing: couldn't create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("sing: couldn't copy %s: %w", src, err)
	}
	return nil
}
