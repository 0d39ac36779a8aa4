package netstatus

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// HTTPProber checks reachability with a HEAD request against URL. Any HTTP
// response, whatever its status, proves the host is reachable.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// Probe implements Prober. Transport failures report an unreachable but
// connected link; a malformed URL is returned as an error.
func (p *HTTPProber) Probe(ctx context.Context) (State, error) {
	if p.URL == "" {
		return State{}, errors.New("netstatus: probe URL is empty")
	}
	if _, err := url.ParseRequestURI(p.URL); err != nil {
		return State{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return State{}, err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return State{}, ctx.Err()
		}
		return State{Connected: true, Reachability: Unreachable}, nil
	}
	resp.Body.Close()
	return State{Connected: true, Reachability: Reachable}, nil
}
