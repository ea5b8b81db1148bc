package api

import (
	"errors"
	"net"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// isUUID reports whether s parses as a UUID. Route ids are validated before
// queries so garbage never reaches SQL.
func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

var errBadPath = errors.New("path contains forbidden elements")

// cleanRelPath normalizes a user-supplied path relative to a session's
// working directory. Traversal, NUL bytes, and absolute paths are rejected;
// an empty path means the directory itself.
func cleanRelPath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", errBadPath
	}
	if p == "" {
		return ".", nil
	}
	if strings.HasPrefix(p, "/") {
		return "", errBadPath
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errBadPath
	}
	return cleaned, nil
}

var (
	errProxyScheme  = errors.New("only http and https URLs can be proxied")
	errProxyPrivate = errors.New("URL resolves to a private or local address")
)

// checkProxyTarget validates a URL for the reverse-fetch endpoint: http(s)
// only, and the host must not resolve to loopback, RFC 1918, link-local,
// unspecified, or IPv4-mapped-IPv6 space. Every resolved address is checked;
// one private A record poisons the whole set.
func checkProxyTarget(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return errProxyScheme
	}
	host := u.Hostname()
	if host == "" {
		return errProxyPrivate
	}

	var addrs []net.IP
	if ip := net.ParseIP(host); ip != nil {
		addrs = []net.IP{ip}
	} else {
		resolved, err := net.LookupIP(host)
		if err != nil {
			return errProxyPrivate
		}
		addrs = resolved
	}

	for _, ip := range addrs {
		if isPrivateIP(ip) {
			return errProxyPrivate
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
