package git

import (
	"net/url"
)

// InjectCredentials embeds username and token as basic-auth userinfo in an
// https remote URL. Other schemes, unparsable URLs, or an incomplete
// credential pair return rawURL unchanged.
func InjectCredentials(rawURL, username, token string) string {
	if username == "" || token == "" {
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return rawURL
	}

	u.User = url.UserPassword(username, token)
	return u.String()
}

// StripCredentials removes any userinfo from rawURL. It is used to keep
// tokens out of logs and status output.
func StripCredentials(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}

	u.User = nil
	return u.String()
}

// SameCredentials reports whether two remote URLs carry identical userinfo.
func SameCredentials(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}

	return ua.User.String() == ub.User.String()
}
