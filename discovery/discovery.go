// Package discovery lets greetme servers on the same host find each other.
// Each server announces itself on the first free port of a small range; a
// scan sweeps the range and collects the announcements.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Service tags announcements so that unrelated HTTP servers in the range are
// ignored.
const Service = "greetme"

type Entry struct {
	Service string `json:"service"`
	Name    string `json:"name"`
	APIURL  string `json:"api_url"`
}

type Announcer struct {
	port   uint16
	server *http.Server
	served chan error
}

type handler struct {
	entry []byte
}

func (h handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(h.entry)
}

// Announce serves entry on the first free port of the configured range.
func Announce(entry Entry, opts ...option) (*Announcer, error) {
	c := applyOptions(opts)
	entry.Service = Service
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	var l net.Listener
	var port uint16
	err = fmt.Errorf("empty port range %d-%d", c.startPort, c.endPort)
	for port = c.startPort; port >= c.startPort && port <= c.endPort; port++ {
		l, err = net.Listen("tcp", net.JoinHostPort(c.host, fmt.Sprint(port)))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("no free port in %d-%d: %w", c.startPort, c.endPort, err)
	}

	a := &Announcer{
		port:   port,
		server: &http.Server{Handler: handler{entry: body}, ReadHeaderTimeout: 5 * time.Second},
		served: make(chan error, 1),
	}
	go func() {
		err := a.server.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		a.served <- err
	}()
	return a, nil
}

// Port returns the port the announcement is served on.
func (a *Announcer) Port() uint16 {
	return a.port
}

func (a *Announcer) Close() error {
	if err := a.server.Shutdown(context.Background()); err != nil {
		return err
	}
	return <-a.served
}

// Scan sweeps the port range the configured number of times and returns the
// distinct announcements found, in port order of first sight.
func Scan(ctx context.Context, opts ...option) ([]Entry, error) {
	c := applyOptions(opts)
	client := &http.Client{Timeout: c.timeout}
	seen := map[string]struct{}{}
	entries := make([]Entry, 0)

	for attempt := uint(0); attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return entries, ctx.Err()
			case <-time.After(c.interval):
			}
		}
		for port := c.startPort; port >= c.startPort && port <= c.endPort; port++ {
			if ctx.Err() != nil {
				return entries, ctx.Err()
			}
			if port == c.skipPort {
				continue
			}
			e, ok := probe(ctx, client, c.host, port)
			if !ok {
				continue
			}
			if _, dup := seen[e.APIURL]; dup {
				continue
			}
			seen[e.APIURL] = struct{}{}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func probe(ctx context.Context, client *http.Client, host string, port uint16) (Entry, bool) {
	url := fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Entry{}, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return Entry{}, false
	}
	defer func() { _ = resp.Body.Close() }()

	var e Entry
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e); err != nil {
		return Entry{}, false
	}
	if e.Service != Service || e.APIURL == "" {
		return Entry{}, false
	}
	return e, true
}
