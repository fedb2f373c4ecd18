// Package ratelimit provides sliding-window admission control for the
// realtime gateway. Keys are per source identity or IP.
package ratelimit

import "time"

type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
}

type RateLimiter interface {
	Allow(key string, config RateLimitConfig) (bool, error)
	Reset(key string) error
}

type window struct {
	duration time.Duration
	limit    int
}

func windowsFor(config RateLimitConfig) []window {
	return []window{
		{time.Minute, config.RequestsPerMinute},
		{time.Hour, config.RequestsPerHour},
	}
}
