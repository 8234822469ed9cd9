package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader reads typed settings from the environment. A malformed value is
// recorded and the default returned, so New can report every bad key at once.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (r *envReader) fail(key, value string, err error) {
	r.errs = append(r.errs, fmt.Errorf("invalid %s %q: %w", key, value, err))
}

func (r *envReader) text(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func (r *envReader) number(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return n
}

func (r *envReader) flag(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return b
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return d
}

// date parses a YYYY-MM-DD value as midnight UTC.
func (r *envReader) date(key, def string) time.Time {
	v, ok := r.lookup(key)
	if !ok {
		v = def
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		r.fail(key, v, err)
		return time.Time{}
	}
	return t.UTC()
}

// list splits a comma separated value. Blank entries are dropped, and a
// value with no entries falls back to def.
func (r *envReader) list(key string, def []string) []string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}
