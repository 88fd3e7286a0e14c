// Package antibot recognizes anti-automation responses and varies the
// request fingerprint between calls.
package antibot

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Kind names the type of blocking observed.
type Kind string

// Block kinds.
const (
	KindNone      Kind = ""
	KindRateLimit Kind = "rate_limit"
	KindIPBlock   Kind = "ip_block"
	KindCaptcha   Kind = "captcha"
)

// blockedThreshold is the minimum confidence reported as blocked.
const blockedThreshold = 0.5

// Detection is the verdict for one response.
type Detection struct {
	Blocked    bool
	Kind       Kind
	Confidence float64
	Reason     string
}

type rule struct {
	kind       Kind
	confidence float64
	markers    []string
}

var bodyRules = []rule{
	{
		kind:       KindCaptcha,
		confidence: 0.85,
		markers:    []string{"captcha", "recaptcha", "hcaptcha", "i'm not a robot", "подтвердите, что вы не робот"},
	},
	{
		kind:       KindRateLimit,
		confidence: 0.75,
		markers:    []string{"rate limit", "too many requests", "ddos-guard", "checking your browser", "доступ ограничен"},
	},
	{
		kind:       KindIPBlock,
		confidence: 0.6,
		markers:    []string{"access denied", "forbidden", "blocked", "заблокирован"},
	},
}

// Config tunes fingerprint rotation and pacing.
type Config struct {
	UserAgents []string      `mapstructure:"user_agents"`
	MinDelay   time.Duration `mapstructure:"min_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// DefaultUserAgents are desktop browser strings rotated across requests.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// DefaultConfig returns the stock rotation list and a 1-3s delay window.
func DefaultConfig() Config {
	return Config{
		UserAgents: append([]string(nil), DefaultUserAgents...),
		MinDelay:   time.Second,
		MaxDelay:   3 * time.Second,
	}
}

// Detector is safe for concurrent use.
type Detector struct {
	cfg  Config
	next atomic.Uint64
	rnd  func() float64
}

// New creates a detector. An empty user-agent list falls back to the defaults.
func New(cfg Config) *Detector {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = append([]string(nil), DefaultUserAgents...)
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Detector{cfg: cfg, rnd: rand.Float64}
}

// Detect inspects a response status and body. Status signals take precedence
// over body keywords.
func (d *Detector) Detect(status int, body string) Detection {
	switch status {
	case http.StatusTooManyRequests:
		return verdict(KindRateLimit, 0.9, "status 429")
	case http.StatusForbidden:
		return verdict(KindIPBlock, 0.8, "status 403")
	case http.StatusServiceUnavailable:
		return verdict(KindRateLimit, 0.7, "status 503")
	}
	if body == "" {
		return Detection{}
	}
	lower := strings.ToLower(body)
	for _, r := range bodyRules {
		for _, marker := range r.markers {
			if strings.Contains(lower, marker) {
				return verdict(r.kind, r.confidence, fmt.Sprintf("page contains %q", marker))
			}
		}
	}
	return Detection{}
}

func verdict(kind Kind, confidence float64, reason string) Detection {
	return Detection{
		Blocked:    confidence >= blockedThreshold,
		Kind:       kind,
		Confidence: confidence,
		Reason:     reason,
	}
}

// UserAgent returns the next user agent in rotation.
func (d *Detector) UserAgent() string {
	n := d.next.Add(1) - 1
	return d.cfg.UserAgents[n%uint64(len(d.cfg.UserAgents))]
}

// Delay returns a random pause in [MinDelay, MaxDelay].
func (d *Detector) Delay() time.Duration {
	span := d.cfg.MaxDelay - d.cfg.MinDelay
	if span <= 0 {
		return d.cfg.MinDelay
	}
	return d.cfg.MinDelay + time.Duration(d.rnd()*float64(span))
}

// Pause sleeps for Delay or until ctx is done.
func (d *Detector) Pause(ctx context.Context) error {
	delay := d.Delay()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("request delay canceled: %w", ctx.Err())
	}
}
