package reddit

import (
	"net/url"
	"regexp"
	"strings"
)

var threadIDPattern = regexp.MustCompile(`^[a-z0-9]{4,13}$`)

// ParseThreadURL extracts the subreddit and submission id from the permalink
// shapes users paste: www/old/new hosts, short redd.it links, and bare
// /comments/ paths. Short links carry no subreddit, so it may come back
// empty.
func ParseThreadURL(raw string) (subreddit, redditID string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrInvalidThreadURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", ErrInvalidThreadURL
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")

	switch {
	case host == "redd.it":
		if id := strings.ToLower(parts[0]); threadIDPattern.MatchString(id) {
			return "", id, nil
		}
	case host == "reddit.com" || strings.HasSuffix(host, ".reddit.com"):
		// /r/{subreddit}/comments/{id}/{slug}
		if len(parts) >= 4 && parts[0] == "r" && parts[2] == "comments" {
			if id := strings.ToLower(parts[3]); threadIDPattern.MatchString(id) {
				return parts[1], id, nil
			}
		}
		// /comments/{id}
		if len(parts) >= 2 && parts[0] == "comments" {
			if id := strings.ToLower(parts[1]); threadIDPattern.MatchString(id) {
				return "", id, nil
			}
		}
	}

	return "", "", ErrInvalidThreadURL
}
