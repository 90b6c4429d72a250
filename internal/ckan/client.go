// Package ckan discovers batch files published through a CKAN open-data
// portal.
package ckan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"jurisline/internal/domain"
	"jurisline/internal/downloader"
	"jurisline/internal/logging"
)

const apiVersion = "3"

var resourceDate = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})\.json$`)

type Resource struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Format  string `json:"format"`
	Created string `json:"created"`
}

func (r Resource) IsJSON() bool { return strings.EqualFold(r.Format, "JSON") }

// Date parses the YYYYMMDD.json resource name.
func (r Resource) Date() (time.Time, bool) {
	m := resourceDate.FindStringSubmatch(r.Name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", m[1]+m[2]+m[3])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type Package struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Title     string     `json:"title"`
	Resources []Resource `json:"resources"`
}

// Fetcher performs GET requests. The downloader satisfies it, so portal
// calls share its rate limit and retry policy.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) downloader.Result
}

type Client struct {
	BaseURL string
	fetch   Fetcher
	log     *zap.Logger
}

func New(baseURL string, f Fetcher, log *zap.Logger) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), fetch: f, log: logging.OrNop(log)}
}

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

func (c *Client) action(ctx context.Context, name string, params url.Values, out any) error {
	u := fmt.Sprintf("%s/api/%s/action/%s", c.BaseURL, apiVersion, name)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	r := c.fetch.Fetch(ctx, u)
	switch r.Status {
	case downloader.NotFound:
		return domain.WrapError(domain.ErrNotFound, "ckan "+name, fmt.Errorf("%s", u))
	case downloader.Failed:
		return fmt.Errorf("ckan %s: %w", name, r.Err)
	}
	var env envelope
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return domain.WrapError(domain.ErrMalformed, "ckan "+name, err)
	}
	if !env.Success {
		return fmt.Errorf("ckan %s: api error: %s", name, strings.TrimSpace(string(env.Error)))
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return domain.WrapError(domain.ErrMalformed, "ckan "+name, err)
	}
	return nil
}

// Package fetches a dataset and its resources with package_show.
func (c *Client) Package(ctx context.Context, datasetID string) (Package, error) {
	var p Package
	c.log.Info("fetching ckan package", zap.String("dataset", datasetID))
	err := c.action(ctx, "package_show", url.Values{"id": {datasetID}}, &p)
	return p, err
}

// ListPackages returns every dataset id of the portal.
func (c *Client) ListPackages(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.action(ctx, "package_list", nil, &ids)
	return ids, err
}

// JSONResources keeps the JSON resources of p, newest name first.
func JSONResources(p Package) []Resource {
	var out []Resource
	for _, r := range p.Resources {
		if r.IsJSON() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out
}

// ResourcesInRange keeps dated resources whose date falls in [from, to].
// Resources without a date in their name are dropped.
func ResourcesInRange(resources []Resource, from, to time.Time) []Resource {
	lo := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	hi := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	var out []Resource
	for _, r := range resources {
		d, ok := r.Date()
		if !ok || d.Before(lo) || d.After(hi) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Targets turns resources into download targets named {organ}_{name}.
func Targets(organ string, resources []Resource) []downloader.Target {
	out := make([]downloader.Target, 0, len(resources))
	for _, r := range resources {
		t := downloader.Target{URL: r.URL, Filename: organ + "_" + r.Name, Organ: organ}
		if d, ok := r.Date(); ok {
			t.Year, t.Month = d.Year(), int(d.Month())
		}
		out = append(out, t)
	}
	return out
}
