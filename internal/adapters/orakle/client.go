// Package orakle implements the skill server wire protocol: capability
// discovery via GET /capabilities and invocation via POST /run/<skill_id>.
package orakle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/khromalabs/ainara-sub000/internal/adapters/metrics"
	"github.com/khromalabs/ainara-sub000/internal/domain"
	"github.com/khromalabs/ainara-sub000/internal/domain/models"
)

const (
	defaultInvokeTimeout  = 60 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// Client talks to one or more skill servers in priority order.
type Client struct {
	servers        []string
	httpClient     *http.Client
	invokeTimeout  time.Duration
	requestTimeout time.Duration
}

type Option func(*Client)

// WithInvokeTimeout bounds a single skill invocation.
func WithInvokeTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.invokeTimeout = d
	}
}

// WithRequestTimeout bounds capability discovery requests.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

func NewClient(servers []string, opts ...Option) *Client {
	trimmed := make([]string, 0, len(servers))
	for _, s := range servers {
		if s = strings.TrimSuffix(strings.TrimSpace(s), "/"); s != "" {
			trimmed = append(trimmed, s)
		}
	}

	c := &Client{
		servers:        trimmed,
		httpClient:     &http.Client{},
		invokeTimeout:  defaultInvokeTimeout,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// capabilityEntry is the wire shape of one skill in the manifest.
type capabilityEntry struct {
	Description string `json:"description"`
	MatcherInfo string `json:"matcher_info"`
	RunInfo     struct {
		Parameters map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
			Required    bool   `json:"required"`
			Default     any    `json:"default"`
		} `json:"parameters"`
	} `json:"run_info"`
	Type            string  `json:"type"`
	UI              *uiInfo `json:"ui"`
	Vendor          string  `json:"vendor"`
	Bundle          string  `json:"bundle"`
	EmbeddingsBoost float64 `json:"embeddings_boost_factor"`
}

type uiInfo struct {
	Component string `json:"component"`
	Vendor    string `json:"vendor"`
	Bundle    string `json:"bundle"`
}

// Capabilities fetches the skill manifest from the first responding server.
func (c *Client) Capabilities(ctx context.Context) ([]*models.SkillDescriptor, error) {
	var lastErr error
	for _, server := range c.servers {
		skills, err := c.fetchCapabilities(ctx, server)
		if err != nil {
			log.Printf("warning: capabilities fetch from %s failed: %v", server, err)
			lastErr = err
			continue
		}
		return skills, nil
	}
	if lastErr != nil {
		return nil, domain.NewDomainError(domain.ErrNoSkillServerAvailable, lastErr.Error())
	}
	return nil, domain.ErrNoSkillServerAvailable
}

func (c *Client) fetchCapabilities(ctx context.Context, server string) ([]*models.SkillDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", server+"/capabilities", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("capabilities request failed: %s - %s", resp.Status, string(body))
	}

	var manifest map[string]capabilityEntry
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("malformed capabilities manifest: %w", err)
	}

	skills := make([]*models.SkillDescriptor, 0, len(manifest))
	for name, entry := range manifest {
		skills = append(skills, descriptorFromEntry(name, entry))
	}
	// Stable ordering keeps selection prompts deterministic.
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, nil
}

func descriptorFromEntry(name string, entry capabilityEntry) *models.SkillDescriptor {
	desc := &models.SkillDescriptor{
		Name:            name,
		Description:     entry.Description,
		MatcherInfo:     entry.MatcherInfo,
		Type:            models.SkillType(entry.Type),
		EmbeddingsBoost: entry.EmbeddingsBoost,
	}
	if desc.Type == "" {
		desc.Type = models.SkillTypeRegular
	}
	if entry.UI != nil {
		desc.UI = &models.SkillUIInfo{
			Component: entry.UI.Component,
			Vendor:    firstNonEmpty(entry.UI.Vendor, entry.Vendor),
			Bundle:    firstNonEmpty(entry.UI.Bundle, entry.Bundle),
		}
	}

	params := make([]models.SkillParameter, 0, len(entry.RunInfo.Parameters))
	for pname, p := range entry.RunInfo.Parameters {
		params = append(params, models.SkillParameter{
			Name:        pname,
			Type:        p.Type,
			Description: p.Description,
			Required:    p.Required,
			Default:     p.Default,
		})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	desc.Parameters = params
	return desc
}

// Invoke runs a skill with JSON arguments. Non-2xx responses become a
// formatted error string carrying the server's body; network failures fall
// through to the next server.
func (c *Client) Invoke(ctx context.Context, skillID string, args map[string]any) (any, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal skill arguments: %w", err)
	}

	var lastErr error
	for _, server := range c.servers {
		result, err := c.invokeOn(ctx, server, skillID, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var statusErr *statusError
			if errors.As(err, &statusErr) {
				// The server answered; its error body is the result, not a
				// reason to try the next server.
				metrics.SkillInvocationsTotal.WithLabelValues(skillID, "error").Inc()
				return nil, domain.NewDomainError(domain.ErrSkillInvocationFailed, statusErr.Error())
			}
			log.Printf("warning: skill %s invocation on %s failed: %v", skillID, server, err)
			lastErr = err
			continue
		}
		metrics.SkillInvocationsTotal.WithLabelValues(skillID, "ok").Inc()
		return result, nil
	}
	metrics.SkillInvocationsTotal.WithLabelValues(skillID, "unreachable").Inc()
	if lastErr != nil {
		return nil, domain.NewDomainError(domain.ErrSkillInvocationFailed, lastErr.Error())
	}
	return nil, domain.ErrNoSkillServerAvailable
}

func (c *Client) invokeOn(ctx context.Context, server, skillID string, body []byte) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.invokeTimeout)
	defer cancel()

	endpoint := server + "/run/" + url.PathEscape(skillID)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{
			message: fmt.Sprintf("skill %s failed (%s): %s", skillID, resp.Status, strings.TrimSpace(string(respBody))),
		}
	}

	// Skill servers return either a JSON value or a plain string.
	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return strings.TrimSpace(string(respBody)), nil
	}
	return decoded, nil
}

// statusError marks a non-2xx answer from a reachable server.
type statusError struct {
	message string
}

func (e *statusError) Error() string {
	return e.message
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
