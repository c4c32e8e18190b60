package identity

import (
	"context"
	"errors"
	"regexp"
)

// UAClassifier turns a raw User-Agent string into the fields the
// tracker attaches to a FINGERPRINT node's metadata. Production
// deployments inject a real parser (spec §1, §6); the core never
// implements one itself.
type UAClassifier interface {
	Classify(userAgent string) UAClassification
}

// UAClassification is the UA classifier's raw output. Any field left
// zero-valued is substituted with "Unknown" ("desktop" for DeviceType)
// by ApplyDefaults before it reaches a FINGERPRINT node (spec §4.3,
// §6).
type UAClassification struct {
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	Device         string
	DeviceType     string
	CPU            string
}

// ApplyDefaults fills every empty field with "Unknown", except
// DeviceType which defaults to "desktop".
func (c UAClassification) ApplyDefaults() DeviceMetadata {
	fill := func(s string) string {
		if s == "" {
			return "Unknown"
		}
		return s
	}
	deviceType := c.DeviceType
	if deviceType == "" {
		deviceType = "desktop"
	}
	return DeviceMetadata{
		Browser:        fill(c.Browser),
		BrowserVersion: fill(c.BrowserVersion),
		OS:             fill(c.OS),
		OSVersion:      fill(c.OSVersion),
		Device:         fill(c.Device),
		DeviceType:     deviceType,
		CPU:            fill(c.CPU),
	}
}

// DefaultUAClassifier is a deterministic, best-effort reference
// classifier suitable for local runs and tests. It is intentionally not
// production-grade — real deployments are expected to inject their own
// classifier against the live UA corpus (spec §1).
type DefaultUAClassifier struct{}

var (
	reBrowser = regexp.MustCompile(`(Chrome|Firefox|Safari|Edg|OPR)/([\d.]+)`)
	reOS      = regexp.MustCompile(`\(([^;]+);`)
	reMobile  = regexp.MustCompile(`Mobile|Android|iPhone`)
)

// Classify implements UAClassifier with a small set of regexes covering
// the handful of browser/OS families exercised by this module's tests.
func (DefaultUAClassifier) Classify(userAgent string) UAClassification {
	var c UAClassification

	if m := reBrowser.FindStringSubmatch(userAgent); m != nil {
		c.Browser = m[1]
		c.BrowserVersion = m[2]
	}
	if m := reOS.FindStringSubmatch(userAgent); m != nil {
		c.OS = m[1]
	}
	if reMobile.MatchString(userAgent) {
		c.DeviceType = "mobile"
	} else {
		c.DeviceType = "desktop"
	}

	return c
}

// ErrDecryptNotImplemented is returned by NoopDecryptOracle. It never
// fabricates plaintext.
var ErrDecryptNotImplemented = errors.New("identity: decrypt oracle not configured")

// DecryptOracle decrypts an asymmetrically-encrypted, base64-encoded
// JSON payload into its plaintext fields. This is an external
// collaborator (spec §1, §6) — the core never implements real
// decryption; it only depends on this contract existing so a caller can
// wire one in before the boundary layer reaches the tracker.
type DecryptOracle interface {
	Decrypt(ctx context.Context, base64Blob string) (map[string]any, error)
}

// NoopDecryptOracle always fails. It exists so a composition root can
// be wired up end-to-end in tests without a real decryption backend,
// without silently returning fabricated plaintext.
type NoopDecryptOracle struct{}

// Decrypt implements DecryptOracle.
func (NoopDecryptOracle) Decrypt(context.Context, string) (map[string]any, error) {
	return nil, ErrDecryptNotImplemented
}
