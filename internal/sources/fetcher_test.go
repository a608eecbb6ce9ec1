package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustaudit/internal/types"
)

var acme = types.Subject{ID: "s1", Name: "Acme Roofing LLC", City: "Denver", State: "CO"}

func testClient() *HTTPClient {
	return NewHTTPClient("trustaudit-test", 5*time.Second)
}

func TestTemplatedFetcher_Success(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, `<html><body>
			<div><h3>Apex Roofing</h3><p>4.9 stars (210 reviews)</p></div>
			<div><h3>Acme Roofing LLC</h3><p>3.1 stars (12 reviews)</p></div>
		</body></html>`)
	}))
	defer srv.Close()

	spec := Spec{Name: "yelp", Kind: KindTemplatedURL, URLTemplate: srv.URL + "/search?q={name}", Parse: ParseReviewPlatform}
	res, err := (&TemplatedFetcher{Spec: spec, Client: testClient()}).Fetch(context.Background(), acme)
	require.NoError(t, err)

	assert.Equal(t, "Acme Roofing LLC", gotQuery)
	assert.Equal(t, types.FetchSuccess, res.Status)
	require.NotNil(t, res.Structured)
	assert.Equal(t, 3.1, *res.Structured.Rating)
	assert.Contains(t, res.URL, "q=Acme+Roofing+LLC")
}

func TestTemplatedFetcher_NoMatchIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<p>Apex Roofing 4.9 stars</p>`)
	}))
	defer srv.Close()

	spec := Spec{Name: "yelp", Kind: KindTemplatedURL, URLTemplate: srv.URL, Parse: ParseReviewPlatform}
	res, err := (&TemplatedFetcher{Spec: spec, Client: testClient()}).Fetch(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, types.FetchNotFound, res.Status)
	assert.Nil(t, res.Structured)
}

func TestTemplatedFetcher_StatusCodes(t *testing.T) {
	code := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	defer srv.Close()

	spec := Spec{Name: "yelp", Kind: KindTemplatedURL, URLTemplate: srv.URL, Parse: ParseReviewPlatform}
	f := &TemplatedFetcher{Spec: spec, Client: testClient()}

	res, err := f.Fetch(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, types.FetchNotFound, res.Status)

	code = http.StatusServiceUnavailable
	_, err = f.Fetch(context.Background(), acme)
	var se *HTTPStatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestFormFetcher_CarriesSessionAndHiddenFields(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
		fmt.Fprint(w, `<html><body><form action="/results" method="post">
			<input type="hidden" name="csrf" value="tok123">
			<input type="text" name="business_name">
			<input type="text" name="state">
			<input type="submit" value="Search">
		</form></body></html>`)
	})
	mux.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		c, err := r.Cookie("session")
		if err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.FormValue("csrf") != "tok123" || r.FormValue("business_name") != "Acme Roofing LLC" || r.FormValue("state") != "CO" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `<table><tr><td>ACME ROOFING LLC</td><td>License # CSLB-123456</td><td>Status: Active</td></tr></table>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	spec := Spec{
		Name: "state_license_board", Kind: KindForm, URLTemplate: srv.URL + "/search",
		FormFields: map[string]string{"business_name": "{name}", "state": "{state}"},
		Parse:      ParseLicense, Sequential: true, Requests: 2,
	}
	res, err := (&FormFetcher{Spec: spec, Client: testClient()}).Fetch(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, types.FetchSuccess, res.Status)
	assert.Equal(t, "ACTIVE", res.Structured.LicenseStatus)
	assert.Equal(t, srv.URL+"/results", res.URL)
}

func TestFormFetcher_MissingForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<p>maintenance</p>`)
	}))
	defer srv.Close()

	spec := Spec{Name: "secretary_of_state", Kind: KindForm, URLTemplate: srv.URL,
		FormFields: map[string]string{"entity_name": "{name}"}, Parse: ParseEntityRegistration}
	res, err := (&FormFetcher{Spec: spec, Client: testClient()}).Fetch(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, types.FetchNotFound, res.Status)
	assert.Equal(t, srv.URL, res.URL)
	assert.Contains(t, res.Raw, "maintenance")
}

func TestAPIFetcher_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"count":1,"results":[{"caseName":"Doe v. Acme Roofing LLC","docketNumber":"22-1","court":"cod","dateFiled":"2022-01-01"}]}`)
	}))
	defer srv.Close()

	spec := Spec{Name: "court_records", Kind: KindAPI, URLTemplate: srv.URL + "?q={name}", Parse: ParseCourtListener}
	res, err := (&APIFetcher{Spec: spec, Client: testClient()}).Fetch(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, types.FetchSuccess, res.Status)
	assert.Equal(t, 1, *res.Structured.Mentions)
}

func TestAPIFetcher_EmptyResultsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count":0,"results":[]}`)
	}))
	defer srv.Close()

	spec := Spec{Name: "court_records", Kind: KindAPI, URLTemplate: srv.URL, Parse: ParseCourtListener}
	res, err := (&APIFetcher{Spec: spec, Client: testClient()}).Fetch(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, types.FetchNotFound, res.Status)
	assert.Empty(t, res.Raw)
}

func TestPlacesFetcher_SendsKeyAndFieldMask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Goog-Api-Key") != "k-123" || r.Header.Get("X-Goog-FieldMask") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !assert.Contains(t, string(body), `Acme Roofing LLC Denver, CO`) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"places":[{"displayName":{"text":"Acme Roofing LLC"},"rating":4.8,"userRatingCount":212}]}`)
	}))
	defer srv.Close()

	spec := Spec{Name: "google", Kind: KindAPI, URLTemplate: srv.URL, Parse: ParseGooglePlaces}
	res, err := (&PlacesFetcher{Spec: spec, Client: testClient(), APIKey: "k-123"}).Fetch(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, types.FetchSuccess, res.Status)
	assert.Equal(t, 4.8, *res.Structured.Rating)
}

type fakeRenderer struct {
	dom string
	err error
	url string
}

func (f *fakeRenderer) Render(_ context.Context, url string) (string, error) {
	f.url = url
	return f.dom, f.err
}

func TestScraperFetcher(t *testing.T) {
	r := &fakeRenderer{dom: `<div><span>Acme Roofing LLC</span><div>4.6 out of 5 stars (40 reviews)</div></div>`}
	spec := Spec{Name: "facebook", Kind: KindCustomScraper, URLTemplate: "https://fb.example/search?q={name}", Parse: ParseReviewPlatform}

	res, err := (&ScraperFetcher{Spec: spec, Renderer: r}).Fetch(context.Background(), acme)
	require.NoError(t, err)
	assert.Equal(t, "https://fb.example/search?q=Acme+Roofing+LLC", r.url)
	assert.Equal(t, 4.6, *res.Structured.Rating)
	assert.Equal(t, 40, *res.Structured.ReviewCount)

	r.err = errors.New("browser crashed")
	_, err = (&ScraperFetcher{Spec: spec, Renderer: r}).Fetch(context.Background(), acme)
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	reg := DefaultRegistry()
	fetchers := Build(reg, Deps{Client: testClient()})
	require.Len(t, fetchers, reg.Len())

	assert.IsType(t, &TemplatedFetcher{}, fetchers["bbb"])
	assert.IsType(t, &FormFetcher{}, fetchers["state_license_board"])
	assert.IsType(t, &APIFetcher{}, fetchers["court_records"])

	_, err := fetchers["google"].Fetch(context.Background(), acme)
	assert.ErrorContains(t, err, "api key")
	_, err = fetchers["facebook"].Fetch(context.Background(), acme)
	assert.ErrorContains(t, err, "browser")

	withKey := Build(reg, Deps{Client: testClient(), GooglePlacesAPIKey: "k", Renderer: &fakeRenderer{}})
	assert.IsType(t, &PlacesFetcher{}, withKey["google"])
	assert.IsType(t, &ScraperFetcher{}, withKey["facebook"])
}
