// Package avatar formats Discord CDN avatar URLs and, optionally,
// probes them for reachability. The richpresence client itself never
// needs a user's avatar image — it only receives the hash in the Ready
// event's user object — so this lives as a peripheral collaborator the
// demo daemon can use, not as part of the engine's hot path.
package avatar

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const cdnHost = "https://cdn.discordapp.com"

// FormatURL builds the CDN URL for a user's avatar. Hashes that start
// with "a_" (Discord's convention for animated avatars) get the .gif
// extension, all others .png. size is rounded down to a power of two
// between 16 and 4096 (values below 16 become 16); a size of 0 or less
// becomes 128.
func FormatURL(userID uint64, avatarHash string, size int) string {
	if avatarHash == "" {
		// Discord's default avatar, keyed off (user id >> 22) modulo 5.
		idx := (userID >> 22) % 5
		return fmt.Sprintf("%s/embed/avatars/%d.png", cdnHost, idx)
	}
	ext := "png"
	if len(avatarHash) > 2 && avatarHash[:2] == "a_" {
		ext = "gif"
	}
	return fmt.Sprintf("%s/avatars/%d/%s.%s?size=%d", cdnHost, userID, avatarHash, ext, clampSize(size))
}

func clampSize(size int) int {
	if size <= 0 {
		return 128
	}
	// round down to the nearest valid power of two in [16, 4096].
	v := 16
	for v*2 <= size && v*2 <= 4096 {
		v *= 2
	}
	return v
}

var (
	httpClient     *retryablehttp.Client
	httpClientOnce sync.Once
)

// sharedClient returns a process-wide retryablehttp client: two
// retries, a short per-attempt timeout, and its own logging disabled
// since the caller's Logger collaborator is the intended sink.
func sharedClient() *retryablehttp.Client {
	httpClientOnce.Do(func() {
		httpClient = retryablehttp.NewClient()
		httpClient.RetryMax = 2
		httpClient.HTTPClient.Timeout = 5 * time.Second
		httpClient.Logger = nil
	})
	return httpClient
}

// CheckReachable issues a HEAD request against url with a bounded
// timeout and a small retry budget, reporting whether the CDN served a
// 2xx response. It returns an error only when the request cannot be
// built (a malformed URL); every failure of the request itself,
// including a canceled or expired context, reports (false, nil), since
// an unreachable avatar is informational, not fatal, to Rich Presence
// publishing.
func CheckReachable(ctx context.Context, url string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("build avatar request: %w", err)
	}

	resp, err := sharedClient().Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
