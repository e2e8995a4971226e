// Package rest provides adapters for a JSON platform API.
//
// Objects of a kind live under a collection URL:
//
//   GET   /<kind>?<attr>=<value>          list, response {"<kind>": [...]}
//   POST  /<kind>                         create, response is the object
//   PATCH /<kind>/<id>                    update, response is the object
//   PUT   /<kind>/<id>/<attr>/<member>    add a member to a list attribute
//
// Scope attributes are sent as query parameters on list and as part of the
// body on create.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/func/seeder/failure"
	"github.com/func/seeder/seed"
	"github.com/func/seeder/upsert"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// A Client talks to the platform API.
type Client struct {
	// BaseURL is the root of the API, without trailing slash.
	BaseURL string

	// Token is sent as a bearer token if set.
	Token string

	// HTTP is the client used for requests. If not set, a client with a 30
	// second timeout is used.
	HTTP *http.Client

	// Logger logs requests. If not set, logs are discarded.
	Logger *zap.Logger
}

var defaultClient = &http.Client{Timeout: 30 * time.Second}

// Adapter returns an adapter for a kind.
func (c *Client) Adapter(kind string) upsert.Adapter {
	return &adapter{client: c, kind: kind}
}

// Adapters returns adapters for the given kinds, keyed by kind.
func (c *Client) Adapters(kinds ...string) map[string]upsert.Adapter {
	out := make(map[string]upsert.Adapter, len(kinds))
	for _, k := range kinds {
		out[k] = c.Adapter(k)
	}
	return out
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return failure.Wrap(failure.Permanent, err, "marshal body")
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return failure.Wrap(failure.Permanent, err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	hc := c.HTTP
	if hc == nil {
		hc = defaultClient
	}
	c.logger().Debug("Request", zap.String("method", method), zap.String("url", u))
	resp, err := hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return statusError(method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}

// statusError classifies an error response.
func statusError(method, path string, code int, msg string) error {
	err := fmt.Errorf("%s %s: %d %s", method, path, code, http.StatusText(code))
	if msg != "" {
		err = fmt.Errorf("%v: %s", err, msg)
	}
	switch {
	case code == http.StatusNotFound:
		return failure.Mark(failure.NotFound, err)
	case code == http.StatusConflict, code == http.StatusTooManyRequests, code >= 500:
		return failure.Mark(failure.Transient, err)
	case code >= 400:
		return failure.Mark(failure.Permanent, err)
	default:
		return failure.Mark(failure.Transient, err)
	}
}

type adapter struct {
	client *Client
	kind   string
}

func (a *adapter) List(ctx context.Context, scope upsert.Scope, filter seed.Record) ([]seed.Record, error) {
	q := url.Values{}
	for k, v := range scope {
		q.Set(k, v)
	}
	for k, v := range filter {
		if s, ok := v.(string); ok {
			q.Set(k, s)
		}
	}
	var resp map[string][]seed.Record
	if err := a.client.do(ctx, http.MethodGet, "/"+a.kind, q, nil, &resp); err != nil {
		return nil, err
	}

	// Filters the platform may not support are applied here.
	var out []seed.Record
	for _, obj := range resp[a.kind] {
		if matches(obj, scope, filter) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func matches(obj seed.Record, scope upsert.Scope, filter seed.Record) bool {
	for k, v := range scope {
		if obj.Attr(k) != v {
			return false
		}
	}
	for k, v := range filter {
		if !seed.Equal(obj[k], v) {
			return false
		}
	}
	return true
}

func (a *adapter) Create(ctx context.Context, scope upsert.Scope, payload seed.Record) (seed.Record, error) {
	body := payload.Clone()
	if body == nil {
		body = seed.Record{}
	}
	for k, v := range scope {
		body[k] = v
	}
	var obj seed.Record
	if err := a.client.do(ctx, http.MethodPost, "/"+a.kind, nil, body, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func (a *adapter) Update(ctx context.Context, scope upsert.Scope, id string, payload seed.Record) (seed.Record, error) {
	var obj seed.Record
	path := "/" + a.kind + "/" + url.PathEscape(id)
	if err := a.client.do(ctx, http.MethodPatch, path, nil, payload, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func (a *adapter) AddMember(ctx context.Context, scope upsert.Scope, id, attr string, member interface{}) error {
	path := fmt.Sprintf("/%s/%s/%s/%s", a.kind, url.PathEscape(id), attr, url.PathEscape(fmt.Sprint(member)))
	return a.client.do(ctx, http.MethodPut, path, nil, nil, nil)
}
