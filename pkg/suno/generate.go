package suno

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const model = "chirp-v3-0"

// AudioURL returns the artifact URL of a clip.
func AudioURL(id string) string {
	return fmt.Sprintf("https://audiopipe.suno.ai/?item_id=%s", id)
}

// VideoURL returns the video URL of a clip.
func VideoURL(id string) string {
	return fmt.Sprintf("https://cdn1.suno.ai/%s.mp4", id)
}

type billingResponse struct {
	TotalCreditsLeft int `json:"total_credits_left"`
}

// RemainingCredits returns how many generations the account can still
// afford. Each generation costs 10 credits.
func (c *Client) RemainingCredits(ctx context.Context) (int, error) {
	var resp billingResponse
	if _, err := c.do(ctx, "GET", "billing/info/", nil, &resp); err != nil {
		return 0, fmt.Errorf("suno: couldn't get billing info: %w", err)
	}
	if resp.TotalCreditsLeft <= 0 {
		return 0, nil
	}
	return resp.TotalCreditsLeft / 10, nil
}

type generateRequest struct {
	GPTDescriptionPrompt string `json:"gpt_description_prompt"`
	MV                   string `json:"mv"`
	Prompt               string `json:"prompt"`
	MakeInstrumental     bool   `json:"make_instrumental"`
}

type generateResponse struct {
	ID       string   `json:"id"`
	Clips    []clip   `json:"clips"`
	Metadata metadata `json:"metadata"`
	Status   string   `json:"status"`
}

type clip struct {
	ID       string   `json:"id"`
	VideoURL string   `json:"video_url"`
	AudioURL string   `json:"audio_url"`
	ImageURL string   `json:"image_url"`
	Metadata metadata `json:"metadata"`
	Status   string   `json:"status"`
	Title    string   `json:"title"`
}

type metadata struct {
	Tags                 string  `json:"tags"`
	Prompt               string  `json:"prompt"`
	GPTDescriptionPrompt string  `json:"gpt_description_prompt"`
	Type                 string  `json:"type"`
	Duration             float32 `json:"duration"`
	ErrorType            *string `json:"error_type"`
	ErrorMessage         *string `json:"error_message"`
}

func (m metadata) err() string {
	var typ, msg string
	if m.ErrorType != nil {
		typ = *m.ErrorType
	}
	if m.ErrorMessage != nil {
		msg = *m.ErrorMessage
	}
	return fmt.Sprintf("(%s) %s", typ, msg)
}

// Submit requests a new song described by prompt and returns the ids of
// the two clips the provider generates.
func (c *Client) Submit(ctx context.Context, prompt string) ([2]string, error) {
	var ids [2]string
	req := &generateRequest{
		GPTDescriptionPrompt: prompt,
		MV:                   model,
		Prompt:               "",
		MakeInstrumental:     false,
	}
	var resp generateResponse
	if _, err := c.do(ctx, "POST", "generate/v2/", req, &resp); err != nil {
		return ids, fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	if resp.Metadata.ErrorType != nil {
		return ids, fmt.Errorf("%w: song generation error: %s", ErrSubmission, resp.Metadata.err())
	}
	if len(resp.Clips) < 2 {
		return ids, fmt.Errorf("%w: expected 2 clips, got %d", ErrSubmission, len(resp.Clips))
	}
	for i := range ids {
		if resp.Clips[i].ID == "" {
			return ids, fmt.Errorf("%w: empty clip id", ErrSubmission)
		}
		ids[i] = resp.Clips[i].ID
	}
	return ids, nil
}

// Metadata is the information of a finished generation.
type Metadata struct {
	Name     string
	Lyric    string
	ClipIDs  [2]string
	Duration float32
}

var stageDirections = regexp.MustCompile(`\[.*?\]`)

// Poll waits until the feed returns a title, lyrics and both clip ids.
// Incomplete responses are retried after the poll wait; request errors
// renew the token and are retried after the poll error wait. Both count
// against the same attempt ceiling.
func (c *Client) Poll(ctx context.Context, ids [2]string) (*Metadata, error) {
	u := fmt.Sprintf("feed/?ids=%s", strings.Join(ids[:], ","))
	for attempt := 1; attempt <= c.maxPolls; attempt++ {
		if c.TokenExpired() {
			if err := c.Renew(ctx); err != nil {
				return nil, err
			}
		}

		var clips []clip
		wait := c.pollWait
		if _, err := c.do(ctx, "GET", u, nil, &clips); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("suno: couldn't fetch clips metadata", "attempt", attempt, "err", err)
			if err := c.Renew(ctx); err != nil {
				return nil, err
			}
			wait = c.pollErrorWait
		} else {
			md, err := toMetadata(clips)
			if err != nil {
				return nil, err
			}
			if md != nil {
				return md, nil
			}
			c.log.Debug("suno: clips not ready", "attempt", attempt, "ids", ids)
		}

		if attempt == c.maxPolls {
			break
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: clips %s not ready after %d attempts", ErrPollExhausted, strings.Join(ids[:], ","), c.maxPolls)
}

// toMetadata returns nil if the clips aren't complete yet.
func toMetadata(clips []clip) (*Metadata, error) {
	var name, lyric string
	var clipIDs []string
	var duration float32
	for _, cl := range clips {
		if cl.Metadata.ErrorType != nil {
			return nil, fmt.Errorf("%w: clip %s: %s", ErrClipFailed, cl.ID, cl.Metadata.err())
		}
		if len(clipIDs) < 2 && cl.ID != "" {
			clipIDs = append(clipIDs, cl.ID)
		}
		if lyric == "" {
			lyric = strings.TrimSpace(stageDirections.ReplaceAllString(cl.Metadata.Prompt, ""))
		}
		if name == "" {
			name = strings.TrimSpace(cl.Title)
		}
		if duration == 0 {
			duration = cl.Metadata.Duration
		}
	}
	if name == "" || lyric == "" || len(clipIDs) != 2 {
		return nil, nil
	}
	return &Metadata{
		Name:     name,
		Lyric:    name + "\n\n" + lyric,
		ClipIDs:  [2]string{clipIDs[0], clipIDs[1]},
		Duration: duration,
	}, nil
}
