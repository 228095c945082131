// Package trackertest provides an in-process fake of the Jira REST endpoints
// used by tracker.JiraClient.
package trackertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xmlangel/testcasecraft-sub009/internal/services/tracker"
)

var jqlKeyPattern = regexp.MustCompile(`"([^"]+)"`)

// Comment is a comment received by the fake server.
type Comment struct {
	ID   string
	Key  string
	Body string
}

// Server is a fake Jira. Configure it before issuing requests; the exported
// counters are safe to read while requests are in flight.
type Server struct {
	*httptest.Server

	Username string
	Token    string

	mu        sync.Mutex
	issues    map[string]tracker.IssueSnapshot
	failures  map[string]int // key -> HTTP status to answer with
	failNext  []int
	comments  []Comment
	searches  []string
	commentID int

	GetCalls     atomic.Int64
	SearchCalls  atomic.Int64
	CommentCalls atomic.Int64
}

func NewServer() *Server {
	s := &Server{
		Username:  "bot@example.com",
		Token:     "secret-token",
		issues:    make(map[string]tracker.IssueSnapshot),
		failures:  make(map[string]int),
		commentID: 10000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/api/2/issue/{key}", s.handleGet)
	mux.HandleFunc("POST /rest/api/2/issue/{key}/comment", s.handleComment)
	mux.HandleFunc("GET /rest/api/2/search", s.handleSearch)
	s.Server = httptest.NewServer(s.authenticate(mux))
	return s
}

// Connection returns credentials the server accepts.
func (s *Server) Connection() tracker.Connection {
	return tracker.Connection{ConfigID: 1, ServerURL: s.URL, Username: s.Username, Token: s.Token}
}

func (s *Server) AddIssue(snap tracker.IssueSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues[snap.Key] = snap
}

// FailKey makes every request touching key answer with status.
func (s *Server) FailKey(key string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key] = status
}

// FailNext queues statuses returned by the next requests, in order.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, statuses...)
}

func (s *Server) Comments() []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Comment(nil), s.comments...)
}

// Searches returns the JQL of every search request received.
func (s *Server) Searches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.searches...)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Token {
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		if status := s.popFailure(); status != 0 {
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) popFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failNext) == 0 {
		return 0
	}
	status := s.failNext[0]
	s.failNext = s.failNext[1:]
	return status
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.GetCalls.Add(1)
	key := r.PathValue("key")

	s.mu.Lock()
	status := s.failures[key]
	snap, ok := s.issues[key]
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Issue Does Not Exist")
		return
	}
	writeJSON(w, http.StatusOK, issueJSON(snap))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.SearchCalls.Add(1)
	jql := r.URL.Query().Get("jql")

	s.mu.Lock()
	s.searches = append(s.searches, jql)
	var issues []map[string]interface{}
	failed := 0
	for _, m := range jqlKeyPattern.FindAllStringSubmatch(jql, -1) {
		if st := s.failures[m[1]]; st != 0 {
			failed = st
		}
		if snap, ok := s.issues[m[1]]; ok {
			issues = append(issues, issueJSON(snap))
		}
	}
	s.mu.Unlock()

	if failed != 0 {
		writeError(w, failed, http.StatusText(failed))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"startAt":    0,
		"maxResults": len(issues),
		"total":      len(issues),
		"issues":     issues,
	})
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	s.CommentCalls.Add(1)
	key := r.PathValue("key")

	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	status := s.failures[key]
	_, ok := s.issues[key]
	if status == 0 && ok {
		s.commentID++
	}
	id := fmt.Sprintf("%d", s.commentID)
	if status == 0 && ok {
		s.comments = append(s.comments, Comment{ID: id, Key: key, Body: req.Body})
	}
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Issue Does Not Exist")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "body": req.Body})
}

func issueJSON(snap tracker.IssueSnapshot) map[string]interface{} {
	fields := map[string]interface{}{
		"summary": snap.Summary,
	}
	if snap.Status != "" {
		fields["status"] = map[string]string{"name": snap.Status}
	}
	if snap.IssueType != "" {
		fields["issuetype"] = map[string]string{"name": snap.IssueType}
	}
	if snap.Priority != "" {
		fields["priority"] = map[string]string{"name": snap.Priority}
	}
	return map[string]interface{}{
		"id":     strings.ReplaceAll(snap.Key, "-", ""),
		"key":    snap.Key,
		"fields": fields,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"errorMessages": []string{msg}})
}
