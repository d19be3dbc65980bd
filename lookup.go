package nsq

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// lookupdClient queries one nsqlookupd HTTP address (spec.md §4.3/§6).
type lookupdClient struct {
	addr       string
	httpClient *http.Client
}

func newLookupdClient(addr string) *lookupdClient {
	return &lookupdClient{
		addr:       addr,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

type lookupProducer struct {
	BroadcastAddress string `json:"broadcast_address"`
	TCPPort          int    `json:"tcp_port"`
}

type lookupResponse struct {
	Data struct {
		Producers []lookupProducer `json:"producers"`
	} `json:"data"`
}

// lookup performs GET /lookup?topic=<topic>, per spec.md §6.
func (lc *lookupdClient) lookup(topic string) ([]Endpoint, error) {
	endpoint := fmt.Sprintf("http://%s/lookup?topic=%s", lc.addr, url.QueryEscape(topic))
	resp, err := lc.httpClient.Get(endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookupd %s: unexpected status %d", lc.addr, resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("lookupd %s: %w", lc.addr, err)
	}

	endpoints := make([]Endpoint, 0, len(body.Data.Producers))
	for _, p := range body.Data.Producers {
		endpoints = append(endpoints, Endpoint{Host: p.BroadcastAddress, Port: p.TCPPort})
	}
	return endpoints, nil
}

// discover queries every configured nsqlookupd for topic's producers,
// merging the results. A single lookupd failure is logged (as
// DiscoveryUnavailable) and does not prevent the others from
// contributing, per spec.md §4.3/§6.
func (c *Client) discover(topic string) []Endpoint {
	if len(c.lookupds) == 0 {
		return nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := make(map[Endpoint]bool)
	var merged []Endpoint

	for _, lc := range c.lookupds {
		wg.Add(1)
		go func(lc *lookupdClient) {
			defer wg.Done()
			endpoints, err := lc.lookup(topic)
			if err != nil {
				c.logf(LogLevelWarning, "%s", wrapErr(ErrDiscoveryUnavailable, "lookupd query failed", err))
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, e := range endpoints {
				if !seen[e] {
					seen[e] = true
					merged = append(merged, e)
				}
			}
		}(lc)
	}
	wg.Wait()
	return merged
}
