package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/igolaizola/sunobot/pkg/logger"
	"github.com/igolaizola/sunobot/pkg/sound"
	"github.com/igolaizola/sunobot/pkg/storage"
	"github.com/igolaizola/sunobot/pkg/suno"
	"github.com/oklog/ulid/v2"
)

const (
	minPromptLength     = 2
	minCredentialLength = 10

	// Attempts to pick another credential when a concurrent job acquired
	// the one we found first.
	maxAcquireAttempts = 3

	releaseTimeout = 30 * time.Second
)

// Store is the persistence used by the generator.
type Store interface {
	ListCredentials(ctx context.Context) ([]*storage.Credential, error)
	NextCredential(ctx context.Context) (*storage.Credential, error)
	AcquireCredential(ctx context.Context, id string) (bool, error)
	ReleaseCredential(ctx context.Context, id string, quota int, expiry *time.Time) error
	SetCredentialQuota(ctx context.Context, id string, quota int) error
	RefreshCredential(ctx context.Context, id string, quota *int, expiry *time.Time) (bool, error)
	AddCredential(ctx context.Context, content string, quota int, expiry time.Time) (*storage.Credential, error)
	UsableQuota(ctx context.Context) (int, error)
	SetSong(ctx context.Context, v *storage.Song) error
}

// Session is a provider session bound to a single credential.
type Session interface {
	Start(ctx context.Context) error
	RemainingCredits(ctx context.Context) (int, error)
	SessionExpiry(ctx context.Context) (time.Time, bool, error)
	Submit(ctx context.Context, prompt string) ([2]string, error)
	Poll(ctx context.Context, ids [2]string) (*suno.Metadata, error)
}

// SessionFactory creates a new session for the credential content.
type SessionFactory func(cookie string) Session

// SunoSessions returns a factory of suno clients sharing the same config.
func SunoSessions(cfg *suno.Config) SessionFactory {
	return func(cookie string) Session {
		c := *cfg
		c.Cookie = cookie
		return suno.New(&c)
	}
}

type Fetcher interface {
	Download(ctx context.Context, url, dir, name string) (string, error)
}

// Archive keeps a copy of the delivered songs.
type Archive interface {
	SetMP3(ctx context.Context, path, id string) error
}

// Artifact is a downloaded clip ready to be delivered.
type Artifact struct {
	SongID   string
	ClipID   string
	Name     string
	Lyric    string
	Path     string
	Duration float32
}

// Deliver forwards an artifact to the user. The file is removed after it
// returns.
type Deliver func(ctx context.Context, a *Artifact) error

type Result struct {
	Song       *storage.Song
	Downloaded int
	Delivered  int
}

type Config struct {
	Store    Store
	Sessions SessionFactory
	Fetcher  Fetcher
	Archive  Archive
	Logger   *log.Logger

	// OutputDir is where artifacts are downloaded before being delivered.
	OutputDir string

	AudioURL func(id string) string
	VideoURL func(id string) string

	// Duration probes the duration of a downloaded file.
	Duration func(path string) (float32, error)

	// Defaults of new credentials.
	DefaultQuota    int
	DefaultLifetime time.Duration
}

type Generator struct {
	store           Store
	sessions        SessionFactory
	fetcher         Fetcher
	archive         Archive
	log             *log.Logger
	outputDir       string
	audioURL        func(string) string
	videoURL        func(string) string
	duration        func(string) (float32, error)
	defaultQuota    int
	defaultLifetime time.Duration
}

func New(cfg *Config) *Generator {
	g := &Generator{
		store:           cfg.Store,
		sessions:        cfg.Sessions,
		fetcher:         cfg.Fetcher,
		archive:         cfg.Archive,
		log:             logger.Or(cfg.Logger),
		outputDir:       cfg.OutputDir,
		audioURL:        cfg.AudioURL,
		videoURL:        cfg.VideoURL,
		duration:        cfg.Duration,
		defaultQuota:    cfg.DefaultQuota,
		defaultLifetime: cfg.DefaultLifetime,
	}
	if g.outputDir == "" {
		g.outputDir = filepath.Join(os.TempDir(), "sunobot")
	}
	if g.audioURL == nil {
		g.audioURL = suno.AudioURL
	}
	if g.videoURL == nil {
		g.videoURL = suno.VideoURL
	}
	if g.duration == nil {
		g.duration = sound.Duration
	}
	if g.defaultQuota <= 0 {
		g.defaultQuota = storage.DefaultQuota
	}
	if g.defaultLifetime <= 0 {
		g.defaultLifetime = storage.DefaultLifetime
	}
	return g
}

// lease is the exclusive ownership of a credential during a job. The
// credential is released exactly once with the last known quota.
type lease struct {
	store Store
	log   *log.Logger
	ctx   context.Context
	cred  *storage.Credential
	quota int
	once  sync.Once
}

func (l *lease) release() {
	l.once.Do(func() {
		// The job context may be canceled already, the release must happen
		// anyway.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(l.ctx), releaseTimeout)
		defer cancel()
		if err := l.store.ReleaseCredential(ctx, l.cred.ID, l.quota, nil); err != nil {
			l.log.Error("generator: couldn't release credential", "credential", l.cred.ID, "quota", l.quota, "err", err)
			return
		}
		l.log.Debug("generator: credential released", "credential", l.cred.ID, "quota", l.quota)
	})
}

func (g *Generator) acquire(ctx context.Context) (*lease, error) {
	for i := 0; i < maxAcquireAttempts; i++ {
		cred, err := g.store.NextCredential(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoCredential
		}
		if err != nil {
			return nil, fmt.Errorf("generator: couldn't find credential: %w", err)
		}
		ok, err := g.store.AcquireCredential(ctx, cred.ID)
		if err != nil {
			return nil, fmt.Errorf("generator: couldn't acquire credential: %w", err)
		}
		if ok {
			return &lease{
				store: g.store,
				log:   g.log,
				ctx:   ctx,
				cred:  cred,
				quota: cred.Quota,
			}, nil
		}
		g.log.Debug("generator: credential taken by another job", "credential", cred.ID)
	}
	return nil, ErrNoCredential
}

// ValidatePrompt returns the trimmed prompt or ErrInvalidPrompt.
func ValidatePrompt(prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if utf8.RuneCountInString(prompt) < minPromptLength {
		return "", ErrInvalidPrompt
	}
	return prompt, nil
}

// Generate runs a whole generation job for the prompt. Each downloaded
// clip is passed to deliver, which may be nil. The acquired credential is
// always released before returning.
func (g *Generator) Generate(ctx context.Context, prompt string, deliver Deliver) (*Result, error) {
	prompt, err := ValidatePrompt(prompt)
	if err != nil {
		return nil, err
	}

	l, err := g.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer l.release()
	log := g.log.With("credential", l.cred.ID)
	log.Info("generator: credential acquired", "quota", l.cred.Quota)

	session := g.sessions(l.cred.Content)
	if err := session.Start(ctx); err != nil {
		log.Warn("generator: couldn't start session", "err", err)
		return nil, err
	}

	credits, err := session.RemainingCredits(ctx)
	if err != nil {
		return nil, fmt.Errorf("generator: couldn't get remaining credits: %w", err)
	}
	if credits <= 0 {
		l.quota = 0
		log.Warn("generator: credential has no credits left")
		return nil, ErrQuotaExhausted
	}

	// The provider bills on submission, so the quota is spent even if the
	// generation fails later.
	l.quota = min(l.quota, credits) - 1
	if err := g.store.SetCredentialQuota(ctx, l.cred.ID, l.quota); err != nil {
		return nil, fmt.Errorf("generator: couldn't update quota: %w", err)
	}

	ids, err := session.Submit(ctx, prompt)
	if err != nil {
		log.Warn("generator: couldn't submit prompt", "err", err)
		return nil, err
	}
	log.Info("generator: prompt submitted", "clips", ids)

	md, err := session.Poll(ctx, ids)
	if err != nil {
		log.Warn("generator: couldn't get clips", "clips", ids, "err", err)
		return nil, err
	}

	song := &storage.Song{
		ID:           ulid.Make().String(),
		Prompt:       prompt,
		Name:         md.Name,
		Lyric:        md.Lyric,
		ClipIDs:      md.ClipIDs[:],
		CredentialID: l.cred.ID,
		Duration:     md.Duration,
	}
	for _, id := range md.ClipIDs {
		song.AudioURLs = append(song.AudioURLs, g.audioURL(id))
		song.VideoURLs = append(song.VideoURLs, g.videoURL(id))
	}

	result := &Result{Song: song}
	var canceled error
	for i, id := range md.ClipIDs {
		name := fmt.Sprintf("%s_%s", md.Name, id)
		path, err := g.fetcher.Download(ctx, song.AudioURLs[i], g.outputDir, name)
		if err != nil {
			if ctx.Err() != nil {
				canceled = ctx.Err()
				break
			}
			log.Warn("generator: couldn't download clip", "clip", id, "err", err)
			continue
		}
		result.Downloaded++
		if g.deliver(ctx, log, song, id, path, deliver) {
			result.Delivered++
		}
	}
	if result.Downloaded == 0 {
		if canceled != nil {
			return nil, canceled
		}
		return nil, fmt.Errorf("%w: no clip of song %s could be downloaded", ErrDownloadExhausted, song.ID)
	}

	// A downloaded clip means the generation happened, so the song is
	// recorded even if the job was cancelled afterwards.
	saveCtx := ctx
	if canceled != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
	}
	if err := g.store.SetSong(saveCtx, song); err != nil {
		return nil, fmt.Errorf("generator: couldn't save song: %w", err)
	}
	if canceled != nil {
		log.Warn("generator: song saved after cancellation", "song", song.ID, "downloaded", result.Downloaded, "delivered", result.Delivered)
		return nil, canceled
	}
	log.Info("generator: song completed", "song", song.ID, "name", song.Name, "downloaded", result.Downloaded, "delivered", result.Delivered)
	return result, nil
}

// deliver forwards the file, archives it and removes it.
func (g *Generator) deliver(ctx context.Context, log *log.Logger, song *storage.Song, clipID, path string, deliver Deliver) bool {
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("generator: couldn't remove file", "path", path, "err", err)
		}
	}()

	if song.Duration == 0 {
		d, err := g.duration(path)
		if err != nil {
			log.Debug("generator: couldn't probe duration", "path", path, "err", err)
		} else {
			song.Duration = d
		}
	}

	var delivered bool
	if deliver != nil {
		a := &Artifact{
			SongID:   song.ID,
			ClipID:   clipID,
			Name:     song.Name,
			Lyric:    song.Lyric,
			Path:     path,
			Duration: song.Duration,
		}
		if err := deliver(ctx, a); err != nil {
			log.Warn("generator: couldn't deliver clip", "clip", clipID, "err", err)
		} else {
			delivered = true
		}
	}

	if g.archive != nil {
		if err := g.archive.SetMP3(ctx, path, fmt.Sprintf("%s-%s", song.ID, clipID)); err != nil {
			log.Warn("generator: couldn't archive clip", "clip", clipID, "err", err)
		}
	}
	return delivered
}

// AddCredential validates and stores a new credential with the default
// quota and lifetime.
func (g *Generator) AddCredential(ctx context.Context, content string) (*storage.Credential, error) {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) < minCredentialLength {
		return nil, ErrInvalidCredential
	}
	c, err := g.store.AddCredential(ctx, content, g.defaultQuota, time.Now().Add(g.defaultLifetime))
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil, ErrCredentialExists
	}
	if err != nil {
		return nil, fmt.Errorf("generator: couldn't add credential: %w", err)
	}
	g.log.Info("generator: credential added", "credential", c.ID, "content", c.Redacted())
	return c, nil
}

// Capacity returns how many songs can be generated with the usable
// credentials.
func (g *Generator) Capacity(ctx context.Context) (int, error) {
	n, err := g.store.UsableQuota(ctx)
	if err != nil {
		return 0, fmt.Errorf("generator: couldn't get capacity: %w", err)
	}
	return n, nil
}
