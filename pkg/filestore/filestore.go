package filestore

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunobot/pkg/filestore/local"
	"github.com/igolaizola/sunobot/pkg/filestore/s3"
)

type fs interface {
	Upload(ctx context.Context, path, name string) error
	Download(ctx context.Context, path, name string) error
}

// Store archives delivered songs.
type Store struct {
	fs fs
}

func (s *Store) SetMP3(ctx context.Context, path, id string) error {
	return s.fs.Upload(ctx, path, MP3(id))
}

func (s *Store) GetMP3(ctx context.Context, path, id string) error {
	return s.fs.Download(ctx, path, MP3(id))
}

// New creates a store of the given type.
//
//   - local: conn is the destination directory.
//   - s3: conn is "key:secret@bucket.region", optionally followed by
//     "|https://endpoint" for S3 compatible providers.
func New(ctx context.Context, typ, conn string, logger *log.Logger) (*Store, error) {
	var fs fs
	switch typ {
	case "s3":
		cfg, err := parseS3(conn)
		if err != nil {
			return nil, err
		}
		cfg.Logger = logger
		candidate, err := s3.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
		fs = candidate
	case "local":
		candidate, err := local.New(conn)
		if err != nil {
			return nil, fmt.Errorf("filestore: %w", err)
		}
		fs = candidate
	default:
		return nil, fmt.Errorf("filestore: unknown file storage type %q", typ)
	}
	return &Store{fs: fs}, nil
}

func parseS3(conn string) (*s3.Config, error) {
	var endpoint string
	if i := strings.Index(conn, "|"); i >= 0 {
		endpoint = conn[i+1:]
		conn = conn[:i]
	}
	split := strings.Split(conn, "@")
	if len(split) != 2 {
		return nil, fmt.Errorf("filestore: invalid s3 connection string %q", conn)
	}
	auth := strings.Split(split[0], ":")
	if len(auth) != 2 {
		return nil, fmt.Errorf("filestore: invalid s3 auth string")
	}
	loc := strings.Split(split[1], ".")
	if len(loc) != 2 {
		return nil, fmt.Errorf("filestore: invalid s3 location string %q", split[1])
	}
	return &s3.Config{
		Key:      auth[0],
		Secret:   auth[1],
		Bucket:   loc[0],
		Region:   loc[1],
		Endpoint: endpoint,
	}, nil
}

func MP3(id string) string {
	return id + ".mp3"
}
