// Package geocode: почтовый индекс -> координаты и город через Zippopotam.us.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL = "https://api.zippopotam.us"
	DefaultCountry = "us"
	DefaultTimeout = 5 * time.Second

	// CenteringZipcode: точка - центр почтовой зоны, не точный адрес
	CenteringZipcode = "zipcode"

	tracerName   = "github.com/cwrk-planet/aidchat/geocode"
	maxBodyBytes = 64 << 10
)

type Zippopotam struct {
	baseURL string
	country string
	client  *http.Client
}

func NewZippopotam(baseURL, country string, timeout time.Duration) *Zippopotam {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if country == "" {
		country = DefaultCountry
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Zippopotam{
		baseURL: strings.TrimRight(baseURL, "/"),
		country: strings.ToLower(country),
		client:  &http.Client{Timeout: timeout},
	}
}

type place struct {
	Name      string `json:"place name"`
	State     string `json:"state"`
	StateAbbr string `json:"state abbreviation"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

type response struct {
	PostCode string  `json:"post code"`
	Places   []place `json:"places"`
}

func (z *Zippopotam) Lookup(ctx context.Context, zipcode string) (domain.Location, error) {
	zip, err := domain.NormalizeZipcode(zipcode)
	if err != nil {
		return domain.Location{}, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "zippopotam.lookup",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("geo.zipcode", zip)),
	)
	defer span.End()

	loc, err := z.lookup(ctx, zip)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return loc, err
}

func (z *Zippopotam) lookup(ctx context.Context, zip string) (domain.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, z.baseURL+"/"+z.country+"/"+zip, nil)
	if err != nil {
		return domain.Location{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := z.client.Do(req)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return domain.Location{}, fmt.Errorf("%w: geocoding %s", domain.ErrTimeout, zip)
		}
		return domain.Location{}, fmt.Errorf("geocode %s: %w", zip, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Location{}, fmt.Errorf("%w: unknown zipcode %s", domain.ErrValidation, zip)
	case resp.StatusCode != http.StatusOK:
		return domain.Location{}, fmt.Errorf("geocode %s: upstream status %d", zip, resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return domain.Location{}, fmt.Errorf("geocode %s: decode: %w", zip, err)
	}
	// пустой ответ {} сервис тоже отдаёт на несуществующий индекс
	if len(body.Places) == 0 {
		return domain.Location{}, fmt.Errorf("%w: unknown zipcode %s", domain.ErrValidation, zip)
	}

	p := body.Places[0]
	lat, err := strconv.ParseFloat(p.Latitude, 64)
	if err != nil {
		return domain.Location{}, fmt.Errorf("geocode %s: latitude %q: %w", zip, p.Latitude, err)
	}
	lng, err := strconv.ParseFloat(p.Longitude, 64)
	if err != nil {
		return domain.Location{}, fmt.Errorf("geocode %s: longitude %q: %w", zip, p.Longitude, err)
	}

	state := p.StateAbbr
	if state == "" {
		state = p.State
	}
	return domain.Location{
		Lat:            lat,
		Lng:            lng,
		City:           p.Name,
		State:          state,
		Zipcode:        zip,
		CenteringLevel: CenteringZipcode,
	}, nil
}
