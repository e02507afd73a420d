package geocode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/gustycube/skywatch/internal/httpclient"
	"github.com/gustycube/skywatch/internal/rate"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"

// Nominatim queries an OSM Nominatim compatible search endpoint. It makes
// a single attempt per call; callers bound it with a context deadline.
type Nominatim struct {
	endpoint  string
	countries string
	client    *httpclient.ResilientClient
	limiter   *rate.Keyed
}

// NewNominatim builds a client. Public Nominatim allows one request per
// second, which is the limiter's default.
func NewNominatim(endpoint, countries string, client *httpclient.ResilientClient, limiter *rate.Keyed) *Nominatim {
	if endpoint == "" {
		endpoint = DefaultNominatimURL
	}
	if client == nil {
		client = httpclient.NewResilientClient(nil, "")
	}
	if limiter == nil {
		limiter = rate.New(1, 1)
	}
	return &Nominatim{endpoint: endpoint, countries: countries, client: client, limiter: limiter}
}

func (n *Nominatim) Geocode(ctx context.Context, name string) (Result, error) {
	u, err := url.Parse(n.endpoint)
	if err != nil {
		return Result{}, err
	}
	if err := n.limiter.Wait(ctx, u.Host); err != nil {
		return Result{}, err
	}

	q := u.Query()
	q.Set("q", name)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	q.Set("accept-language", "uk")
	if n.countries != "" {
		q.Set("countrycodes", n.countries)
	}
	u.RawQuery = q.Encode()

	resp, err := n.client.GetWithContext(ctx, u.String())
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &httpclient.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, err
	}
	return parseNominatim(body, name)
}

func parseNominatim(body []byte, query string) (Result, error) {
	if !gjson.ValidBytes(body) {
		return Result{}, fmt.Errorf("nominatim: invalid json")
	}
	first := gjson.GetBytes(body, "0")
	if !first.Exists() {
		return Result{}, ErrNotFound
	}
	lat, err := strconv.ParseFloat(first.Get("lat").String(), 64)
	if err != nil {
		return Result{}, fmt.Errorf("nominatim lat: %w", err)
	}
	lng, err := strconv.ParseFloat(first.Get("lon").String(), 64)
	if err != nil {
		return Result{}, fmt.Errorf("nominatim lon: %w", err)
	}
	name := first.Get("name").String()
	if name == "" {
		name = query
	}
	return Result{Name: name, Point: pointOf(lat, lng)}, nil
}
