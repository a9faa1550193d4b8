package director

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// NewTokenSource returns the credential source for a director.
//
// With TokenFile set, the file is read on first use and again once the
// cached token passes TokenTTL; an external login helper can rotate the
// file without restarting the bridge. Otherwise Token is used as a
// static bearer token.
func NewTokenSource(cfg Config) (oauth2.TokenSource, error) {
	cfg = cfg.withDefaults()

	switch {
	case cfg.TokenFile != "":
		return oauth2.ReuseTokenSource(nil, &fileTokenSource{
			path: cfg.TokenFile,
			ttl:  cfg.TokenTTL,
			now:  time.Now,
		}), nil
	case cfg.Token != "":
		return oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Token,
			TokenType:   "Bearer",
		}), nil
	default:
		return nil, ErrNoCredentials
	}
}

// fileTokenSource reads a bearer token from disk on every call.
type fileTokenSource struct {
	path string
	ttl  time.Duration
	now  func() time.Time
}

func (s *fileTokenSource) Token() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading director token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return nil, fmt.Errorf("%w: token file %s is empty", ErrNoCredentials, s.path)
	}

	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      s.now().Add(s.ttl),
	}, nil
}

// authHeader renders the Authorization header value for a token.
func authHeader(src oauth2.TokenSource) (string, error) {
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("director token: %w", err)
	}
	return tok.Type() + " " + tok.AccessToken, nil
}
