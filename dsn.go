package sentry_transport

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDSN is returned by ParseDSN for malformed DSNs.
var ErrInvalidDSN = errors.New("invalid DSN")

const (
	sentryAPIVersion = 7
	sentryClient     = "sentry-envelope-transport/1.0.0"
)

// DSN represents a parsed Sentry DSN
type DSN struct {
	raw       string
	Scheme    string
	PublicKey string
	SecretKey string
	Host      string
	Port      int
	Path      string
	ProjectID string
	OrgID     *int // Organization ID (optional, for SaaS)
}

// Regex to match the organization ID in the host (for Sentry SaaS)
var sentryOrgIDRegex = regexp.MustCompile(`^o(\d+)\.`)

// ParseDSN parses a Sentry DSN string
func ParseDSN(dsnStr string) (*DSN, error) {
	if dsnStr == "" {
		return nil, fmt.Errorf("%w: DSN is empty", ErrInvalidDSN)
	}

	parsedURL, err := url.Parse(dsnStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidDSN, dsnStr, err)
	}

	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path == "" ||
		parsedURL.User == nil || parsedURL.User.Username() == "" {
		return nil, fmt.Errorf("%w: %q must contain a scheme, a host, a user and a path component", ErrInvalidDSN, dsnStr)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme of %q must be either http or https", ErrInvalidDSN, dsnStr)
	}

	port := 80
	if parsedURL.Scheme == "https" {
		port = 443
	}
	if p := parsedURL.Port(); p != "" {
		portNum, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidDSN, p)
		}
		port = portNum
	}

	// the last path segment is the project, everything before it is a prefix
	segments := strings.Split(strings.Trim(parsedURL.Path, "/"), "/")
	projectID := segments[len(segments)-1]
	if projectID == "" {
		return nil, fmt.Errorf("%w: %q path must contain a project ID", ErrInvalidDSN, dsnStr)
	}
	path := ""
	if len(segments) > 1 {
		path = "/" + strings.Join(segments[:len(segments)-1], "/")
	}

	var orgID *int
	if matches := sentryOrgIDRegex.FindStringSubmatch(parsedURL.Hostname()); len(matches) > 1 {
		if id, err := strconv.Atoi(matches[1]); err == nil {
			orgID = &id
		}
	}

	secretKey, _ := parsedURL.User.Password()

	return &DSN{
		raw:       dsnStr,
		Scheme:    parsedURL.Scheme,
		PublicKey: parsedURL.User.Username(),
		SecretKey: secretKey,
		Host:      parsedURL.Hostname(),
		Port:      port,
		Path:      path,
		ProjectID: projectID,
		OrgID:     orgID,
	}, nil
}

// String returns the DSN as it was configured
func (d *DSN) String() string {
	return d.raw
}

// BaseURL returns the base API endpoint URL
func (d *DSN) BaseURL() string {
	base := fmt.Sprintf("%s://%s", d.Scheme, d.Host)

	// Add port if non-standard
	if (d.Scheme == "http" && d.Port != 80) || (d.Scheme == "https" && d.Port != 443) {
		base += fmt.Sprintf(":%d", d.Port)
	}

	return base + d.Path + "/api/" + d.ProjectID
}

// EnvelopeURL returns the envelope API endpoint URL
func (d *DSN) EnvelopeURL() string {
	return d.BaseURL() + "/envelope/"
}

// AuthHeader returns the X-Sentry-Auth header value
func (d *DSN) AuthHeader(now time.Time) string {
	auth := fmt.Sprintf("Sentry sentry_version=%d, sentry_client=%s, sentry_timestamp=%d, sentry_key=%s",
		sentryAPIVersion, sentryClient, now.Unix(), d.PublicKey)

	// sentry_secret is deprecated but older self-hosted installs still require it
	if d.SecretKey != "" {
		auth += ", sentry_secret=" + d.SecretKey
	}

	return auth
}
