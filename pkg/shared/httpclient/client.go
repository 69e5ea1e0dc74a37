package httpclient

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/scan-io-git/vulnimpact/internal/config"
)

// UserAgent is sent with every request so feed and SCM operators can identify the engine.
const UserAgent = "vulnimpact"

// HclogAdapter forwards resty's printf-style logging to an hclog.Logger.
type HclogAdapter struct {
	logger hclog.Logger
}

// NewHclogAdapter wraps logger for resty.
func NewHclogAdapter(logger hclog.Logger) resty.Logger {
	return &HclogAdapter{logger: logger}
}

func (a *HclogAdapter) Errorf(format string, v ...interface{}) { a.log(hclog.Error, format, v) }
func (a *HclogAdapter) Warnf(format string, v ...interface{}) { a.log(hclog.Warn, format, v) }
func (a *HclogAdapter) Infof(format string, v ...interface{}) { a.log(hclog.Info, format, v) }
func (a *HclogAdapter) Debugf(format string, v ...interface{}) { a.log(hclog.Debug, format, v) }

func (a *HclogAdapter) log(level hclog.Level, format string, v []interface{}) {
	a.logger.Log(level, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Option adjusts the resolved client configuration.
type Option func(*config.RestyHTTPClientConfig)

// WithoutRetries disables retries, for callers that have their own fallback.
func WithoutRetries() Option {
	return func(c *config.RestyHTTPClientConfig) { c.RetryCount = 0 }
}

// InitializeRestyClient builds a client for intelligence feeds or the
// reasoning backend. Rate limiting (429) and server errors are retried.
func InitializeRestyClient(logger hclog.Logger, cfg *config.Config, opts ...Option) *resty.Client {
	client := resty.New()
	if logger != nil {
		client.SetLogger(NewHclogAdapter(logger))
	}

	var httpConfig *config.HTTPClient
	if cfg != nil {
		httpConfig = &cfg.HTTPClient
	}
	restyConfig := applyHTTPClientConfig(httpConfig)
	for _, opt := range opts {
		opt(&restyConfig)
	}
	client.
		SetDebug(restyConfig.Debug).
		SetHeader("User-Agent", UserAgent).
		SetRetryCount(restyConfig.RetryCount).
		SetRetryWaitTime(restyConfig.RetryWaitTime).
		SetRetryMaxWaitTime(restyConfig.RetryMaxWaitTime).
		AddRetryCondition(retryable).
		SetTimeout(restyConfig.Timeout).
		SetTLSClientConfig(restyConfig.TLSClientConfig)
	if restyConfig.Proxy != "" {
		client.SetProxy(restyConfig.Proxy)
	}

	return client
}

func retryable(resp *resty.Response, err error) bool {
	if err != nil || resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// applyHTTPClientConfig applies the HTTPClient configuration or uses default values.
func applyHTTPClientConfig(httpConfig *config.HTTPClient) config.RestyHTTPClientConfig {
	cfg := config.DefaultRestyConfig()
	if httpConfig == nil {
		return cfg
	}

	cfg.Debug = config.GetBoolValue(httpConfig, "Debug", cfg.Debug)
	cfg.RetryCount = config.SetThen(httpConfig.RetryCount, cfg.RetryCount)
	cfg.RetryWaitTime = config.SetThen(httpConfig.RetryWaitTime, cfg.RetryWaitTime)
	cfg.RetryMaxWaitTime = config.SetThen(httpConfig.RetryMaxWaitTime, cfg.RetryMaxWaitTime)
	cfg.Timeout = config.SetThen(httpConfig.Timeout, cfg.Timeout)
	cfg.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !config.GetBoolValue(httpConfig, "TLSClientConfig.Verify", true),
	}

	if httpConfig.Proxy.Host != "" && httpConfig.Proxy.Port != 0 {
		cfg.Proxy = fmt.Sprintf("%s:%d", httpConfig.Proxy.Host, httpConfig.Proxy.Port)
	}

	return cfg
}
