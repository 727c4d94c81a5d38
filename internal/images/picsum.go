package images

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL  = "https://picsum.photos"
	defaultAttempts = 10
	picsumMaxID     = 1000
)

var ErrNoImage = errors.New("no fabricated image available")

// Picsum resolves a random stock photo and returns its final URL after
// redirects, so every player in a round loads the same image.
type Picsum struct {
	BaseURL  string
	Attempts int
	Client   *http.Client
	Log      zerolog.Logger
	// PickID returns an image id in [1, picsumMaxID].
	PickID func() int
}

func NewPicsum(baseURL string, attempts int, log zerolog.Logger) *Picsum {
	return &Picsum{
		BaseURL:  baseURL,
		Attempts: attempts,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Log:      log,
	}
}

func (p *Picsum) PickFabricatedImage(ctx context.Context) (string, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		candidate := p.candidateURL()
		resolved, err := p.resolve(ctx, candidate)
		if err == nil {
			return resolved, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		p.Log.Warn().Err(err).
			Str("url", candidate).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("fabricated image candidate rejected")
	}
	return "", ErrNoImage
}

func (p *Picsum) candidateURL() string {
	base := p.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	id := rand.IntN(picsumMaxID) + 1
	if p.PickID != nil {
		id = p.PickID()
	}
	return fmt.Sprintf("%s/id/%d/800/600", strings.TrimRight(base, "/"), id)
}

func (p *Picsum) resolve(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Request.URL.String(), nil
}
