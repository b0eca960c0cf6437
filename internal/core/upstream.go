package core

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/metrics"
	"bloomxr.dev/meshstudio/internal/relay"
)

// upstreamResponse is a fully read upstream reply. Bodies are always read to
// the end before a relay writes anything to its own caller.
type upstreamResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *upstreamResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// upstream performs calls against one named external service and records
// their outcome.
type upstream struct {
	name    string
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Collector
}

func newUpstream(name string, client *http.Client, logger *zap.Logger, m *metrics.Collector) upstream {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return upstream{
		name:    name,
		client:  client,
		logger:  logger.With(zap.String("upstream", name)),
		metrics: m,
	}
}

// send executes req and reads the whole body. Transport and read failures
// come back as relay.KindUpstreamUnreachable; a non-2xx status is not an
// error at this level.
func (u upstream) send(req *http.Request) (*upstreamResponse, error) {
	start := time.Now()

	resp, err := u.client.Do(req)
	if err != nil {
		u.metrics.RecordUpstream(u.name, "unreachable", time.Since(start), 0)
		u.logger.Warn("upstream request failed",
			zap.String("method", req.Method),
			zap.String("url", redactURL(req)),
			zap.Error(err))
		return nil, relay.Unreachable(err, "%s unreachable: %v", u.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		u.metrics.RecordUpstream(u.name, "unreachable", time.Since(start), len(body))
		return nil, relay.Unreachable(err, "failed to read %s response: %v", u.name, err)
	}

	outcome := "ok"
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = "error"
	}
	u.metrics.RecordUpstream(u.name, outcome, time.Since(start), len(body))
	u.logger.Debug("upstream response",
		zap.String("method", req.Method),
		zap.String("url", redactURL(req)),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	return &upstreamResponse{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// failure builds the relay error for a non-success reply. The parsed upstream
// message is used when there is one, otherwise "<code> <status text>".
func (r *upstreamResponse) failure(prefix string) *relay.Error {
	msg := relay.ParseUpstreamError(r.Body)
	if msg == "" {
		msg = statusLine(r.Status)
	}
	if prefix != "" {
		msg = prefix + msg
	}
	return relay.Upstream(r.Status, msg)
}

func statusLine(code int) string {
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("%d %s", code, text)
	}
	return fmt.Sprintf("%d", code)
}

// redactURL drops the query string, which may carry signed upload tokens.
func redactURL(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	u := *req.URL
	u.RawQuery = ""
	return u.String()
}
