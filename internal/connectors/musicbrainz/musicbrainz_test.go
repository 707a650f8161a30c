package musicbrainz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetRecordingByISRC(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"recordings": []map[string]string{{"id": "mbid-123"}},
			})
		}))
		defer srv.Close()

		c := NewConnector("narada-test/0.1")
		c.http.SetBaseURL(srv.URL + "/")

		mbid, err := c.GetRecordingByISRC(context.Background(), "USRC17607839")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mbid != "mbid-123" {
			t.Errorf("expected mbid-123, got %s", mbid)
		}
	})

	t.Run("not found gives up immediately", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewConnector("narada-test/0.1")
		c.http.SetBaseURL(srv.URL + "/")

		_, err := c.GetRecordingByISRC(context.Background(), "UNKNOWN")
		if err == nil {
			t.Fatal("expected error for unknown isrc")
		}
		if calls != 1 {
			t.Errorf("expected exactly 1 call on 404, got %d", calls)
		}
	})
}

func TestBatchISRCLookupSkipsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		if query == "isrc:GOOD1" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"recordings": []map[string]string{{"id": "mbid-good"}},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewConnector("narada-test/0.1")
	c.http.SetBaseURL(srv.URL + "/")

	result, err := c.BatchISRCLookup(context.Background(), []string{"GOOD1", "BAD1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["GOOD1"] != "mbid-good" {
		t.Errorf("expected GOOD1 to resolve, got %v", result)
	}
	if _, ok := result["BAD1"]; ok {
		t.Error("expected BAD1 to be absent from result")
	}
}
