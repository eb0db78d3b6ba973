package pagination

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.Page != 1 || params.PageSize != DefaultPageSize {
		t.Fatalf("unexpected defaults %+v", params)
	}
}

func TestParsePageSizeClamped(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")
	values.Set("page", "3")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 || params.Page != 3 {
		t.Fatalf("unexpected params %+v", params)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []struct {
		query string
		want  error
	}{
		{"pageSize=abc", ErrInvalidPageSize},
		{"pageSize=0", ErrInvalidPageSize},
		{"page=-1", ErrInvalidPage},
		{"page=two", ErrInvalidPage},
	}
	for _, tc := range cases {
		values, _ := url.ParseQuery(tc.query)
		if _, err := Parse(values, Options{}); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.query, tc.want, err)
		}
	}
}

func TestWindowAndHasMore(t *testing.T) {
	p := Params{Page: 2, PageSize: 12}
	start, end := p.Window(24)
	if start != 12 || end != 24 {
		t.Fatalf("unexpected window [%d,%d)", start, end)
	}
	if p.HasMore(24) {
		t.Fatalf("expected no more items after page 2 of 24")
	}
	if !(Params{Page: 1, PageSize: 12}).HasMore(24) {
		t.Fatalf("expected more items after page 1 of 24")
	}
	start, end = Params{Page: 5, PageSize: 12}.Window(24)
	if start != 24 || end != 24 {
		t.Fatalf("expected empty window past the end, got [%d,%d)", start, end)
	}
}

func TestFromRequestAndContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/media?page=2&pageSize=5", nil)
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	ctx := WithParams(context.Background(), params)
	got, ok := FromContext(ctx)
	if !ok || got != params {
		t.Fatalf("unexpected params from context %+v", got)
	}
	if def := FromContextOrDefault(context.Background()); def.Page != 1 || def.PageSize != DefaultPageSize {
		t.Fatalf("unexpected default params %+v", def)
	}
}
