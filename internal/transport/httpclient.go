package transport

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient возвращает http.Client с общим таймаутом запроса.
// Для Bot API таймаут должен быть больше таймаута long polling.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(0),
	}
}

// NewStreamingHTTPClient для потоковых ответов (SSE): общего таймаута нет,
// ограничено только ожидание заголовков, тело читается сколько нужно и
// прерывается через context.
func NewStreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: newTransport(headerTimeout),
	}
}

func newTransport(responseHeaderTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: responseHeaderTimeout,
	}
}
