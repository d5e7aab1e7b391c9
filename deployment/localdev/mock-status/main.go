package main

import (
	"flag"
	"html/template"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

type scenario struct {
	Title       string
	Reports     int
	Regions     []string
	Description string
}

// Each service walks through its scenarios, one step per request, so a local
// watcher sees outages open, escalate and resolve.
var scenarios = map[string][]scenario{
	"google": {
		{Title: "User reports indicate no current problems at Google", Reports: 12},
		{Title: "User reports indicate problems at Google", Reports: 1800, Regions: []string{"New York", "London"}, Description: "Users are reporting problems with search and login."},
		{Title: "User reports indicate problems at Google", Reports: 12500, Regions: []string{"New York", "London", "Berlin", "Tokyo"}, Description: "Widespread outage affecting search, mail and login."},
		{Title: "User reports indicate possible problems at Google", Reports: 900, Regions: []string{"London"}},
	},
	"slack": {
		{Title: "User reports indicate no current problems at Slack", Reports: 3},
		{Title: "User reports indicate possible problems at Slack", Reports: 450, Regions: []string{"San Francisco"}},
		{Title: "User reports indicate no current problems at Slack", Reports: 8},
	},
	"github": {
		{Title: "User reports indicate problems at GitHub", Reports: 6200, Regions: []string{"Amsterdam", "Seattle"}, Description: "Git operations and Actions runs are failing for many users."},
		{Title: "User reports indicate problems at GitHub", Reports: 5100, Regions: []string{"Amsterdam"}, Description: "Git operations and Actions runs are failing for many users."},
		{Title: "User reports indicate no current problems at GitHub", Reports: 40},
	},
	"whatsapp": {
		{Title: "User reports indicate no current problems at WhatsApp", Reports: 20},
	},
}

var pageTemplate = template.Must(template.New("status").Parse(`<!doctype html>
<html>
<head><meta name="description" content="Real-time problems and outages for {{.Service}}"></head>
<body>
<h1 class="entry-title">{{.Title}}</h1>
<div class="reports-count">{{.Reports}} reports in the last hour</div>
<ul>{{range .Regions}}<li class="affected-region">{{.}}</li>{{end}}</ul>
<div class="entry-content"><p>{{.Description}}</p></div>
</body>
</html>`))

type stepper struct {
	mu    sync.Mutex
	steps map[string]int
}

func (s *stepper) next(service string) (scenario, bool) {
	list, ok := scenarios[service]
	if !ok {
		return scenario{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.steps[service] % len(list)
	s.steps[service]++
	return list[i], true
}

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	flag.Parse()

	steps := &stepper{steps: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		service := strings.ToLower(strings.Trim(strings.TrimPrefix(r.URL.Path, "/status/"), "/"))
		sc, ok := steps.next(service)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := pageTemplate.Execute(w, struct {
			scenario
			Service string
		}{sc, service}); err != nil {
			log.Printf("render error: %v", err)
		}
	})

	logger := log.New(log.Writer(), "status-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
