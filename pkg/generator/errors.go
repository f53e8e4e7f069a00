package generator

import (
	"errors"
	"fmt"

	"github.com/igolaizola/sunobot/pkg/fetch"
	"github.com/igolaizola/sunobot/pkg/suno"
)

var (
	ErrInvalidPrompt  = errors.New("generator: invalid prompt")
	ErrNoCredential   = errors.New("generator: no credential available")
	ErrQuotaExhausted = errors.New("generator: credential quota exhausted")

	// ErrCredential is the parent of every add credential failure.
	ErrCredential        = errors.New("generator: credential error")
	ErrInvalidCredential = fmt.Errorf("%w: invalid content", ErrCredential)
	ErrCredentialExists  = fmt.Errorf("%w: already exists", ErrCredential)

	ErrAuth              = suno.ErrAuth
	ErrSubmission        = suno.ErrSubmission
	ErrPollExhausted     = suno.ErrPollExhausted
	ErrClipFailed        = suno.ErrClipFailed
	ErrDownloadExhausted = fetch.ErrDownloadExhausted
)
