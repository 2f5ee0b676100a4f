// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package upstream builds the single pooled HTTP client used for every
// forwarded request.
package upstream

import (
	"net"
	"net/http"
	"time"
)

const (
	requestTimeout      = 300 * time.Second
	dialTimeout         = 10 * time.Second
	maxIdleConnsPerHost = 100
	idleConnTimeout     = 90 * time.Second
)

// NewClient constructs the pooled HTTP client shared by every request
// handler. It is built once at process startup and shared by pointer with
// each handler, never copied.
func NewClient() *http.Client {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		IdleConnTimeout:       idleConnTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   requestTimeout,
		Transport: transport,
	}
}
