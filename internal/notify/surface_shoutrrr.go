package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"go.uber.org/zap"
)

// ShoutrrrSurface delivers notifications through shoutrrr service URLs
// (ntfy, telegram, discord and friends). Delivery is best-effort across all
// configured URLs; a failure on any of them fails the Display.
type ShoutrrrSurface struct {
	sender *router.ServiceRouter
	urls   []string
	log    *zap.Logger
}

func NewShoutrrrSurface(urls []string, log *zap.Logger) (*ShoutrrrSurface, error) {
	if len(urls) == 0 {
		return nil, errors.New("shoutrrr surface requires at least one URL")
	}
	if log == nil {
		log = zap.NewNop()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("create shoutrrr sender: %w", err)
	}
	return &ShoutrrrSurface{sender: sender, urls: urls, log: log}, nil
}

func (s *ShoutrrrSurface) Display(_ context.Context, rendered Rendered) error {
	params := types.Params{"title": rendered.Title}
	body := rendered.Body
	if url := rendered.TargetURL(); url != DefaultURL {
		body = body + "\n" + url
	}

	errs := s.sender.Send(body, &params)
	var failed []string
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed = append(failed, fmt.Sprintf("%s: %v", redactURL(s.urls[i]), err))
	}
	if len(failed) > 0 {
		return fmt.Errorf("shoutrrr delivery failed: %s", strings.Join(failed, "; "))
	}
	s.log.Debug("notification delivered",
		zap.String("id", rendered.ID),
		zap.Int("services", len(s.urls)))
	return nil
}

// Close is a no-op: delivered messages cannot be retracted.
func (s *ShoutrrrSurface) Close(string) error { return nil }

// redactURL strips credentials and tokens from a shoutrrr URL for logging.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if _, host, found := strings.Cut(rest, "@"); found {
		return scheme + "://***@" + host
	}
	return scheme + "://" + rest
}
