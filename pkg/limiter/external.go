package limiter

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

type ExternalLimiter struct {
	host *url.URL
}

func NewExternalLimiter(host *url.URL) *ExternalLimiter {
	return &ExternalLimiter{host: host}
}

func (c ExternalLimiter) CanCreateSprint(userId string) bool {
	return c.doRequest("/can/create/sprint/by/" + userId)
}

func (c ExternalLimiter) GetRemainingSprints(userId string) int {
	return c.doRemainRequest("/remain/sprints/by/" + userId)
}

func (c ExternalLimiter) doRemainRequest(path string) int {
	resp, err := http.Get(c.host.ResolveReference(&url.URL{Path: path}).String())
	if err != nil {
		slog.Error("Request remains", "err", err)
		return -1
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return -1
	}

	remain, err := strconv.Atoi(resp.Header.Get("X-Entity-Remain"))
	if err != nil {
		slog.Error("Parse remain answer", "raw", resp.Header.Get("X-Entity-Remain"), "err", err)
		return -1
	}
	return remain
}

func (c ExternalLimiter) doRequest(path string) bool {
	resp, err := http.Get(c.host.ResolveReference(&url.URL{Path: path}).String())
	if err != nil {
		slog.Error("Request access rule", "err", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
