package apiclient_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"lostfound/internal/actuator"
	"lostfound/internal/api"
	"lostfound/internal/apiclient"
	"lostfound/internal/claims"
	"lostfound/internal/services"
	"lostfound/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestBaseURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:7490": "http://127.0.0.1:7490",
		"0.0.0.0:8080":   "http://127.0.0.1:8080",
		":9000":          "http://127.0.0.1:9000",
		"[::]:9000":      "http://127.0.0.1:9000",
		"lockers.local":  "http://lockers.local",
	}
	for in, want := range cases {
		if got := apiclient.BaseURL(in); got != want {
			t.Errorf("BaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBearerTokenSent(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, []store.Identity{{Number: "S1", Name: "Ada", Type: "student"}})
	}))
	defer srv.Close()

	ids, err := apiclient.New(srv.URL, "secret", nil).ListIdentities(context.Background(), "student")
	if err != nil {
		t.Fatalf("ListIdentities: %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if len(ids) != 1 || ids[0].Number != "S1" {
		t.Fatalf("unexpected identities %+v", ids)
	}
}

func TestErrorResponsesUnwrapToMarkers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, api.ErrorResponse{
			Error:    "relay returned 500",
			Kind:     "upstream_unavailable",
			ReportID: 12,
		})
	}))
	defer srv.Close()

	_, err := apiclient.New(srv.URL, "", nil).SubmitReport(context.Background(), api.ReportRequest{IdentityID: "T1"})
	if !errors.Is(err, services.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream marker, got %v", err)
	}
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apiclient.Error, got %T", err)
	}
	if apiErr.Status != http.StatusBadGateway || apiErr.ReportID != 12 {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestPlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no route", http.StatusNotFound)
	}))
	defer srv.Close()

	err := apiclient.New(srv.URL, "", nil).Health(context.Background())
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) || apiErr.Message != "no route" || apiErr.Kind != "" {
		t.Fatalf("unexpected error %#v", err)
	}
}

func TestDaemonUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := apiclient.New(url, "", nil).Status(context.Background())
	if !errors.Is(err, apiclient.ErrDaemonUnreachable) {
		t.Fatalf("expected ErrDaemonUnreachable, got %v", err)
	}
}

func TestUploadEvidenceMultipart(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "front.jpg")
	second := filepath.Join(dir, "back.png")
	if err := os.WriteFile(first, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	var fields = map[string]string{}
	var files = map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/claims/evidence" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		reader, err := r.MultipartReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(part)
			if part.FileName() != "" {
				files[part.FileName()] = string(data)
			} else {
				fields[part.FormName()] = string(data)
			}
		}
		writeJSON(w, http.StatusCreated, claims.Result{Created: true, Claim: claims.Claim{OwnerID: fields["identityId"]}})
	}))
	defer srv.Close()

	result, err := apiclient.New(srv.URL, "", nil).UploadEvidence(context.Background(), "S1", 5, []string{first, second})
	if err != nil {
		t.Fatalf("UploadEvidence: %v", err)
	}
	if !result.Created || result.Claim.OwnerID != "S1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if fields["identityId"] != "S1" || fields["foundItemId"] != "5" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if files["front.jpg"] != "jpeg-bytes" || files["back.png"] != "png-bytes" {
		t.Fatalf("unexpected files %+v", files)
	}
}

func TestUploadEvidenceMissingFile(t *testing.T) {
	client := apiclient.New("http://127.0.0.1:1", "", nil)
	if _, err := client.UploadEvidence(context.Background(), "S1", 0, []string{filepath.Join(t.TempDir(), "nope.jpg")}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestActuatorPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/actuator/wallet/release":
			writeJSON(w, http.StatusOK, actuator.Release{Category: "wallet", Channel: 2, State: actuator.StatePending})
		default:
			writeJSON(w, http.StatusOK, api.ActuatorCommandResponse{Category: "wallet", Channel: 2, Value: "on"})
		}
	}))
	defer srv.Close()

	client := apiclient.New(srv.URL, "", nil)
	release, err := client.Release(context.Background(), "wallet")
	if err != nil || release.Channel != 2 {
		t.Fatalf("Release: %+v %v", release, err)
	}
	if _, err := client.SetChannel(context.Background(), "wallet", actuator.On); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	want := []string{"POST /actuator/wallet/release", "POST /actuator/wallet/on"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestSnapshotUsesServerFilename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Disposition", `attachment; filename="capture_20260101_120000.jpg"`)
		_, _ = w.Write([]byte("frame"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	name, err := apiclient.New(srv.URL, "", nil).Snapshot(context.Background(), &buf)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if name != "capture_20260101_120000.jpg" || buf.String() != "frame" {
		t.Fatalf("unexpected snapshot %q %q", name, buf.String())
	}
}

func TestLogsQuery(t *testing.T) {
	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		_, _ = w.Write([]byte(`{"lines":["a"],"offset":2}`))
	}))
	t.Cleanup(srv.Close)

	client := apiclient.New(srv.URL, "", nil)
	chunk, err := client.Logs(context.Background(), 10, 0, true)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if rawQuery := <-queries; rawQuery != "follow=1&offset=10" {
		t.Fatalf("query = %q", rawQuery)
	}
	if len(chunk.Lines) != 1 || chunk.Offset != 2 {
		t.Fatalf("unexpected chunk %+v", chunk)
	}
}
