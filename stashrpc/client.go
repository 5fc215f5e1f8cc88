// Client for the remote record store
//
// Every call is an HTTP POST of a JSON request to
// <host>/v1/<method>. Responses carry either a result
// or an error object.
package stashrpc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/indexsupply/encdex/bloom"
	"github.com/indexsupply/encdex/isxerrors"
	"github.com/indexsupply/encdex/record"
	"github.com/indexsupply/encdex/schema"
	"github.com/indexsupply/encdex/wctx"
	"github.com/indexsupply/encdex/wtrace"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/sync/errgroup"
)

func New(host string) *Client {
	return &Client{
		d: strings.Contains(host, "debug"),
		hc: &http.Client{
			Timeout:   10 * time.Second,
			Transport: gzhttp.Transport(http.DefaultTransport),
		},
		host: strings.TrimSuffix(host, "/"),
	}
}

type Client struct {
	d    bool
	hc   *http.Client
	host string

	workspace string
	accessKey string
}

func (c *Client) WithAccessKey(k string) *Client {
	c.accessKey = k
	return c
}

func (c *Client) WithWorkspace(ws string) *Client {
	c.workspace = ws
	return c
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	c.hc.Timeout = d
	return c
}

func (c *Client) debug(r io.Reader) io.Reader {
	if !c.d {
		return r
	}
	return io.TeeReader(r, os.Stdout)
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e Error) Exists() bool {
	return e.Code != 0
}

func (e Error) Error() string {
	return fmt.Sprintf("code=%d msg=%s", e.Code, e.Message)
}

type response struct {
	Error  Error           `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) do(ctx context.Context, method, coll string, dest, req any) (err error) {
	if wctx.Host(ctx) == "" {
		ctx = wctx.WithHost(ctx, c.host)
	}
	ctx, span := wtrace.Start(ctx, method, coll)
	t0 := time.Now()
	defer func() {
		RequestDuration.WithLabelValues(method).Observe(time.Since(t0).Seconds())
		if err != nil {
			RequestErrors.WithLabelValues(method).Inc()
		}
		wtrace.End(span, err)
	}()

	rid := wctx.RequestID(ctx)
	if rid == "" {
		rid = uuid.NewString()
	}
	var (
		eg   errgroup.Group
		r, w = io.Pipe()
		resp *http.Response
	)
	eg.Go(func() error {
		defer w.Close()
		return json.NewEncoder(w).Encode(req)
	})
	eg.Go(func() error {
		hreq, err := http.NewRequestWithContext(ctx, "POST", c.host+"/v1/"+method, c.debug(r))
		if err != nil {
			r.CloseWithError(err)
			return fmt.Errorf("unable to new request: %w", err)
		}
		hreq.Header.Add("content-type", "application/json")
		hreq.Header.Add("x-request-id", rid)
		if c.workspace != "" {
			hreq.Header.Add("x-encdex-workspace", c.workspace)
		}
		if c.accessKey != "" {
			hreq.Header.Add("authorization", "Bearer "+c.accessKey)
		}
		resp, err = c.hc.Do(hreq)
		if err != nil {
			r.CloseWithError(err)
			return fmt.Errorf("unable to do http request: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		text := strings.Map(func(r rune) rune {
			if unicode.IsPrint(r) {
				return r
			}
			return -1
		}, string(b))
		const msg = "store http error: %d %.100s"
		return isxerrors.Remote(msg, resp.StatusCode, text)
	}
	var res response
	if err := json.NewDecoder(c.debug(resp.Body)).Decode(&res); err != nil {
		return fmt.Errorf("unable to json decode: %w", err)
	}
	if res.Error.Exists() {
		return isxerrors.Remote("method=%s: %w", method, res.Error)
	}
	if len(res.Result) > 0 {
		if err := json.Unmarshal(res.Result, dest); err != nil {
			return fmt.Errorf("unable to json decode result: %w", err)
		}
	}
	slog.DebugContext(ctx, "store",
		"host", wctx.Host(ctx),
		"m", method,
		"rid", rid,
		"e", time.Since(t0),
	)
	return nil
}

type putRequest struct {
	Collection string          `json:"collection"`
	Records    []record.Sealed `json:"records"`
}

// Returns the number of records the store wrote.
func (c *Client) PutRecords(ctx context.Context, coll string, recs []record.Sealed) (int, error) {
	var res struct {
		N int `json:"n"`
	}
	err := c.do(ctx, "records.put", coll, &res, putRequest{coll, recs})
	if err != nil {
		return 0, fmt.Errorf("putting %d records: %w", len(recs), err)
	}
	return res.N, nil
}

type idRequest struct {
	Collection string    `json:"collection"`
	ID         uuid.UUID `json:"id"`
	Payload    bool      `json:"payload"`
}

// When payload is false the store omits the record's
// payload and the result is index-only.
func (c *Client) GetRecord(ctx context.Context, coll string, id uuid.UUID, payload bool) (record.Sealed, error) {
	var res record.Sealed
	err := c.do(ctx, "records.get", coll, &res, idRequest{coll, id, payload})
	if err != nil {
		return record.Sealed{}, fmt.Errorf("getting %s: %w", id, err)
	}
	return res, nil
}

func (c *Client) DeleteRecord(ctx context.Context, coll string, id uuid.UUID) error {
	var res struct{}
	err := c.do(ctx, "records.delete", coll, &res, idRequest{Collection: coll, ID: id})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	return nil
}

type queryRequest struct {
	Collection string `json:"collection"`
	record.Query
}

// The store selects candidates by subset test.
// Candidates that come back with filter bits are
// checked again locally and dropped when they fail.
func (c *Client) Query(ctx context.Context, coll string, q record.Query) ([]record.Sealed, error) {
	var res []record.Sealed
	err := c.do(ctx, "records.query", coll, &res, queryRequest{coll, q})
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Index, err)
	}
	var n int
	for _, s := range res {
		bits, ok := s.Filters[q.Index]
		if ok && !bloom.SubsetBits(q.Bits, bits) {
			slog.WarnContext(ctx, "store returned non-matching record", "id", s.ID, "index", q.Index)
			continue
		}
		res[n] = s
		n++
	}
	return res[:n], nil
}

func (c *Client) LoadCollection(ctx context.Context, name string) (schema.Collection, error) {
	var res schema.Collection
	req := struct {
		Name string `json:"name"`
	}{name}
	if err := c.do(ctx, "collections.get", name, &res, req); err != nil {
		return schema.Collection{}, fmt.Errorf("loading collection %s: %w", name, err)
	}
	if err := schema.Validate(res); err != nil {
		return schema.Collection{}, fmt.Errorf("loading collection %s: %w", name, err)
	}
	return res, nil
}
