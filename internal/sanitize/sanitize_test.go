package sanitize

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decodeRaw(t *testing.T, payload string) RawResult {
	t.Helper()
	var raw RawResult
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	return raw
}

func TestSanitizeMissingGeoData(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"absent", `{"brand":"Acme","response":"ok"}`},
		{"null", `{"brand":"Acme","response":"ok","geoData":null}`},
		{"string", `{"brand":"Acme","response":"ok","geoData":"broken"}`},
		{"array", `{"brand":"Acme","response":"ok","geoData":[1,2]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := Sanitize(decodeRaw(t, tc.payload))
			if rec.GeoData.Reason != ReasonMissingOrInvalid {
				t.Fatalf("expected reason %q got %q", ReasonMissingOrInvalid, rec.GeoData.Reason)
			}
			if rec.GeoData.Rank != -1 || rec.GeoData.BrandMentioned || rec.GeoData.Sentiment != 0 {
				t.Fatalf("unexpected defaults: %+v", rec.GeoData)
			}
			if rec.GeoData.CitedSources == nil || len(rec.GeoData.CitedSources) != 0 {
				t.Fatalf("expected empty cited sources, got %#v", rec.GeoData.CitedSources)
			}
			if !reflect.DeepEqual(rec.Flags, []string{FlagGeoData}) {
				t.Fatalf("unexpected flags %v", rec.Flags)
			}
		})
	}
}

func TestSanitizeFillsFieldsIndependently(t *testing.T) {
	rec := Sanitize(decodeRaw(t, `{
		"brand":" Acme ",
		"model":"chatgpt",
		"response": 42,
		"geoData": {"brandMentioned": true, "rank": "3", "sentiment": 4.5, "citedSources": "nope"}
	}`))

	if rec.Brand != "Acme" || rec.Model != "chatgpt" {
		t.Fatalf("unexpected identity fields: %+v", rec)
	}
	if rec.Response != "" {
		t.Fatalf("expected empty response, got %q", rec.Response)
	}
	if !rec.GeoData.BrandMentioned || rec.GeoData.Rank != 3 {
		t.Fatalf("unexpected geo: %+v", rec.GeoData)
	}
	if rec.GeoData.Sentiment != 1 {
		t.Fatalf("expected sentiment clamped to 1, got %v", rec.GeoData.Sentiment)
	}
	want := []string{FlagResponse, FlagCitedSources, FlagInterception}
	if !reflect.DeepEqual(rec.Flags, want) {
		t.Fatalf("expected flags %v got %v", want, rec.Flags)
	}
	if rec.GeoData.Reason != "" {
		t.Fatalf("partial geo must not carry a reason, got %q", rec.GeoData.Reason)
	}
}

func TestSanitizeCitedSources(t *testing.T) {
	rec := Sanitize(decodeRaw(t, `{
		"response":"x",
		"geoData": {
			"brandMentioned": false, "rank": 0, "sentiment": -0.4, "interception": "Rival",
			"citedSources": [
				"https://www.Review-Site.com/acme",
				"Forum thread about Acme",
				{"url":"https://blog.example.co.uk/p","sentiment":-0.8,"rank":7,"interception":"yes"},
				{"rank": 3},
				17
			]
		}
	}`))

	sources := rec.GeoData.CitedSources
	if len(sources) != 3 {
		t.Fatalf("expected 3 sources, got %d: %+v", len(sources), sources)
	}
	if sources[0].Site != "review-site.com" {
		t.Fatalf("unexpected site %q", sources[0].Site)
	}
	if sources[1].Title != "Forum thread about Acme" || sources[1].URL != "" {
		t.Fatalf("unexpected title source %+v", sources[1])
	}
	if sources[2].Sentiment != "negative" || sources[2].Rank != 7 || !sources[2].Interception {
		t.Fatalf("unexpected structured source %+v", sources[2])
	}
	if sources[2].Site != "example.co.uk" {
		t.Fatalf("unexpected derived site %q", sources[2].Site)
	}
	if rec.GeoData.Interception != "Rival" {
		t.Fatalf("unexpected interception %q", rec.GeoData.Interception)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	payloads := []string{
		`{}`,
		`{"brand":"Acme","response":"hello","geoData":{"brandMentioned":true,"rank":2,"sentiment":0.5,"citedSources":[],"interception":""}}`,
		`{"brand":"Acme","response":7,"geoData":{"rank":4.9,"sentiment":"-0.3","citedSources":["https://a.example.com/x",{"title":"T","sentiment":"Negative"}]}}`,
		`{"brand":"Beta","score":140,"authority":88,"error":{"message":"quota"},"geoData":"bad"}`,
		`{"brand":"Acme","response":"r","dimensions":{"purity":61.5},"geoData":{"brandMentioned":"true","rank":-1,"sentiment":0,"citedSources":[],"interception":"Rival"}}`,
	}
	for _, payload := range payloads {
		once := Sanitize(decodeRaw(t, payload))
		twice := Sanitize(once.Raw())
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("sanitize not idempotent for %s\nonce:  %+v\ntwice: %+v", payload, once, twice)
		}
	}
}

func TestSanitizeScoresAndErrors(t *testing.T) {
	rec := Sanitize(decodeRaw(t, `{"score":140,"authority":88,"visibility":"x","error":{"message":"quota exceeded"}}`))
	if rec.Score == nil || *rec.Score != 100 {
		t.Fatalf("expected clamped score 100, got %v", rec.Score)
	}
	if rec.Dimensions.Authority == nil || *rec.Dimensions.Authority != 88 {
		t.Fatalf("expected authority 88, got %v", rec.Dimensions.Authority)
	}
	if rec.Dimensions.Visibility != nil {
		t.Fatalf("expected visibility to be absent")
	}
	if rec.Error != "quota exceeded" || !rec.Failed() {
		t.Fatalf("expected failed record, got error=%q", rec.Error)
	}
}

func TestRankToVisibility(t *testing.T) {
	tests := []struct {
		rank     int
		expected float64
	}{
		{1, 100}, {3, 100}, {4, 60}, {6, 60}, {7, 30}, {10, 30}, {11, 0}, {0, 0}, {-1, 0},
	}
	for _, tc := range tests {
		if got := RankToVisibility(tc.rank); got != tc.expected {
			t.Fatalf("rank %d: expected %v got %v", tc.rank, tc.expected, got)
		}
	}
}

func TestSummarize(t *testing.T) {
	records := SanitizeAll([]RawResult{
		{"response": "a", "geoData": map[string]any{"brandMentioned": true, "rank": 1.0, "sentiment": 0.1, "citedSources": []any{}, "interception": ""}},
		{"response": "b"},
		{"error": "timeout"},
	})
	summary := Summarize(records)
	if summary.Total != 3 || summary.Defaulted != 2 || summary.InvalidGeo != 2 || summary.Errored != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.FlagCounts[FlagGeoData] != 2 || summary.FlagCounts[FlagResponse] != 1 {
		t.Fatalf("unexpected flag counts %v", summary.FlagCounts)
	}
}

func TestSanitizeSources(t *testing.T) {
	var raw any
	if err := json.Unmarshal([]byte(`[
		{"url":"https://forum.example.com/t/1","sentiment":"Negative","rank":"7"},
		{"title":"Review","sentiment":-0.8},
		"https://news.example.org/acme",
		{"rank":2}
	]`), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	sources := SanitizeSources(raw)
	if len(sources) != 3 {
		t.Fatalf("expected 3 sources, got %+v", sources)
	}
	if sources[0].Sentiment != "negative" || sources[0].Rank != 7 || sources[0].Site != "example.com" {
		t.Fatalf("unexpected first source %+v", sources[0])
	}
	if sources[1].Sentiment != "negative" {
		t.Fatalf("numeric sentiment should map to a label, got %+v", sources[1])
	}
	if got := SanitizeSources("not a list"); got != nil {
		t.Fatalf("expected nil for a non-list, got %+v", got)
	}
	typed := SanitizeSources([]Source{{Title: "X", Sentiment: " NEGATIVE "}})
	if typed[0].Sentiment != "negative" {
		t.Fatalf("typed sources should be normalized, got %+v", typed)
	}
}

func TestCount(t *testing.T) {
	tests := []struct {
		value    any
		expected int
	}{
		{4.0, 4}, {"3", 3}, {-2.0, 0}, {"many", 0}, {nil, 0},
	}
	for _, tc := range tests {
		if got := Count(tc.value); got != tc.expected {
			t.Fatalf("%v: expected %d got %d", tc.value, tc.expected, got)
		}
	}
}
