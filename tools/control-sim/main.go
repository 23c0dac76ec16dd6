// control-sim is a fake studio control API for local development. It
// serves the status/start/stop routes studiod polls, with configurable
// settle latency so transitions stay pending for a while like the real
// API.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type studio struct {
	status      string
	machineType string
	settleAt    time.Time
	settleTo    string
}

var (
	mu      sync.Mutex
	studios = map[string]*studio{}

	startLatency = 10 * time.Second
	stopLatency  = 5 * time.Second
)

func main() {
	addr := ":9000"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	if v := os.Getenv("START_LATENCY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			startLatency = d
		}
	}
	if v := os.Getenv("STOP_LATENCY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			stopLatency = d
		}
	}

	http.HandleFunc("/v1/studios/", studioHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	log.Printf("control-sim listening on %s (start_latency=%s, stop_latency=%s)",
		addr, startLatency, stopLatency)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// studioHandler serves /v1/studios/{owner}/{teamspace}/{name}/{op}.
func studioHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 5 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	key := parts[1] + "/" + parts[2] + "/" + parts[3]
	op := parts[4]

	mu.Lock()
	defer mu.Unlock()

	s, ok := studios[key]
	if !ok {
		// Every studio exists and starts stopped; this is a simulator.
		s = &studio{status: "stopped"}
		studios[key] = s
	}
	settle(s)

	switch {
	case op == "status" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": s.status})

	case op == "start" && r.Method == http.MethodPost:
		if s.status == "running" || s.status == "pending" {
			writeError(w, http.StatusConflict, "studio is already "+s.status)
			return
		}
		var body struct {
			MachineType string `json:"machine_type"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.status = "pending"
		s.machineType = body.MachineType
		s.settleAt = time.Now().Add(startLatency)
		s.settleTo = "running"
		log.Printf("control-sim: %s starting (machine_type=%s)", key, body.MachineType)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": s.status})

	case op == "stop" && r.Method == http.MethodPost:
		if s.status == "stopped" || s.status == "stopping" {
			writeError(w, http.StatusConflict, "studio is already "+s.status)
			return
		}
		s.status = "stopping"
		s.settleAt = time.Now().Add(stopLatency)
		s.settleTo = "stopped"
		log.Printf("control-sim: %s stopping", key)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": s.status})

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// settle moves a studio out of its pending state once its latency has
// elapsed. Called under mu.
func settle(s *studio) {
	if s.settleTo != "" && time.Now().After(s.settleAt) {
		log.Printf("control-sim: settled to %s", s.settleTo)
		s.status = s.settleTo
		s.settleTo = ""
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
