package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cwrk-planet/aidchat/internal/domain"
)

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/us/10001":
			_, _ = w.Write([]byte(`{"post code":"10001","country":"United States","places":[
				{"place name":"New York City","longitude":"-73.9967","state":"New York","state abbreviation":"NY","latitude":"40.7484"}]}`))
		case "/us/20000":
			_, _ = w.Write([]byte(`{}`))
		case "/us/30000":
			time.Sleep(300 * time.Millisecond)
		case "/us/50000":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLookup(t *testing.T) {
	srv := upstream(t)
	z := NewZippopotam(srv.URL+"/", "US", 100*time.Millisecond)
	ctx := context.Background()

	loc, err := z.Lookup(ctx, " 10001 ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	want := domain.Location{Lat: 40.7484, Lng: -73.9967, City: "New York City", State: "NY", Zipcode: "10001", CenteringLevel: CenteringZipcode}
	if loc != want {
		t.Fatalf("location = %+v", loc)
	}

	tests := []struct {
		zip  string
		want error
	}{
		{"1234", domain.ErrValidation},
		{"99999", domain.ErrValidation},
		{"20000", domain.ErrValidation},
		{"30000", domain.ErrTimeout},
	}
	for _, tt := range tests {
		if _, err := z.Lookup(ctx, tt.zip); !errors.Is(err, tt.want) {
			t.Fatalf("%s: err = %v, want %v", tt.zip, err, tt.want)
		}
	}

	_, err = z.Lookup(ctx, "50000")
	if err == nil || domain.Code(err) != "internal" {
		t.Fatalf("upstream failure: %v", err)
	}
}
