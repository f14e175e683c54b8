package producer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	appErrors "github.com/unclebandit/disparo-dispatch/internal/errors"
	"github.com/unclebandit/disparo-dispatch/internal/model"
)

func TestSubmitPostsBatch(t *testing.T) {
	var got struct {
		Messages []model.DispatchRequest `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/messages/dispatch" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "jobsAdded": 1, "jobIds": []string{"c1:r1"}})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL+"/", time.Second).Submit(context.Background(), []model.DispatchRequest{
		{DisparoID: "c1", RecipientID: "r1", Phone: "5511999990001", Message: "Oi", APIToken: "tok"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.JobsAdded != 1 || res.JobIDs[0] != "c1:r1" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(got.Messages) != 1 || got.Messages[0].APIToken != "tok" {
		t.Errorf("server received %+v", got)
	}
}

func TestSubmitErrorsAreSubmissionErrors(t *testing.T) {
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "invalid phone"})
	}))
	defer rejecting.Close()

	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	for name, url := range map[string]string{"rejected": rejecting.URL, "unreachable": down.URL} {
		_, err := NewClient(url, time.Second).Submit(context.Background(), []model.DispatchRequest{{DisparoID: "c1"}})
		var se *appErrors.SubmissionError
		if !errors.As(err, &se) {
			t.Errorf("%s: expected SubmissionError, got %v", name, err)
		}
	}
}

func TestSubmitReadsLargeResponse(t *testing.T) {
	const n = 20000
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "3f2b8c1e-5d7a-4e9b-9c1d-2a6f8e0b4d3c:" + strconv.Itoa(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "jobsAdded": n, "jobIds": ids})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, 5*time.Second).Submit(context.Background(), []model.DispatchRequest{{DisparoID: "c1"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.JobsAdded != n || len(res.JobIDs) != n {
		t.Errorf("expected %d ids, got %d/%d", n, res.JobsAdded, len(res.JobIDs))
	}
}
