package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

var testID = domain.ResourceID{Owner: "acme", Teamspace: "prod", Name: "render"}

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, "test-token", 5*time.Second)
}

func TestPoll_MapsStatuses(t *testing.T) {
	tests := []struct {
		status string
		want   domain.State
	}{
		{"stopped", domain.StateStopped},
		{"pending", domain.StateStarting},
		{"starting", domain.StateStarting},
		{"running", domain.StateRunning},
		{"stopping", domain.StateStopping},
		{"error", domain.StateError},
		{"failed", domain.StateError},
		{"RUNNING", domain.StateRunning},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"status": %q}`, tt.status)
			})

			got, err := c.Poll(context.Background(), testID)
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Poll() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPoll_UnknownStatusIsTerminal(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "hibernating"}`)
	})

	_, err := c.Poll(context.Background(), testID)
	if err == nil {
		t.Fatal("Poll() should fail for an unrecognized status")
	}
	if IsTransient(err) {
		t.Error("unrecognized status should be terminal, retrying will not help")
	}
}

func TestPoll_RequestShape(t *testing.T) {
	var gotPath, gotAuth string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"status": "running"}`)
	})

	if _, err := c.Poll(context.Background(), testID); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if gotPath != "/v1/studios/acme/prod/render/status" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestPoll_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"request timeout", http.StatusRequestTimeout, true},
		{"not found", http.StatusNotFound, false},
		{"forbidden", http.StatusForbidden, false},
		{"conflict", http.StatusConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error": "nope"}`)
			})

			_, err := c.Poll(context.Background(), testID)
			if err == nil {
				t.Fatalf("Poll() should fail on HTTP %d", tt.status)
			}
			if IsTransient(err) != tt.wantTransient {
				t.Errorf("IsTransient() = %t, want %t for HTTP %d", IsTransient(err), tt.wantTransient, tt.status)
			}
		})
	}
}

func TestPoll_ConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // refuse connections

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.Poll(context.Background(), testID)
	if err == nil {
		t.Fatal("Poll() should fail when the server is unreachable")
	}
	if !IsTransient(err) {
		t.Error("connection failure should be transient")
	}
}

func TestStart_SendsMachineType(t *testing.T) {
	var gotBody startRequest
	var gotMethod, gotPath string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	})

	if err := c.Start(context.Background(), testID, domain.MachineGPU); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/v1/studios/acme/prod/render/start" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if gotBody.MachineType != "GPU" {
		t.Errorf("machine_type = %q, want GPU", gotBody.MachineType)
	}
}

func TestStart_DefaultsToCPU(t *testing.T) {
	var gotBody startRequest
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	})

	if err := c.Start(context.Background(), testID, ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if gotBody.MachineType != "CPU" {
		t.Errorf("machine_type = %q, want CPU", gotBody.MachineType)
	}
}

func TestStart_RejectionCarriesAPIMessage(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error": "studio already running"}`)
	})

	err := c.Start(context.Background(), testID, domain.MachineCPU)
	if err == nil {
		t.Fatal("Start() should surface the rejection")
	}

	var re *Error
	if !errors.As(err, &re) {
		t.Fatalf("error should be *remote.Error, got %T", err)
	}
	if re.Transient() {
		t.Error("409 rejection should be terminal")
	}
	if got := re.Error(); !contains(got, "already running") {
		t.Errorf("error %q should carry the API message", got)
	}
}

func TestStop_AcceptsOKAndAccepted(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusAccepted} {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/studios/acme/prod/render/stop" {
				t.Errorf("path = %q", r.URL.Path)
			}
			w.WriteHeader(code)
		})

		if err := c.Stop(context.Background(), testID); err != nil {
			t.Errorf("Stop() with HTTP %d error = %v", code, err)
		}
	}
}

func TestIsTransient_UnclassifiedErrors(t *testing.T) {
	if !IsTransient(errors.New("plain")) {
		t.Error("unclassified errors default to transient")
	}
	if !IsTransient(fmt.Errorf("wrapped: %w", &Error{Kind: KindTransient, Op: "poll", Err: errors.New("x")})) {
		t.Error("IsTransient should unwrap")
	}
	if IsTransient(&Error{Kind: KindTerminal, Op: "start", Err: errors.New("x")}) {
		t.Error("terminal error reported as transient")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
