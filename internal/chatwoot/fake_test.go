package chatwoot

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// fakeChatwoot is an in-memory stand-in for one Chatwoot account.
type fakeChatwoot struct {
	mu            sync.Mutex
	conversations map[int64][]string
	contacts      []Contact
	contactConvs  map[int64][]int64
	notes         map[int64][]string
	labels        []Label
	inboxes       []Inbox
	stickyLabels  map[string]bool // labels DELETE silently keeps
	rejectCreate  map[string]bool // label titles answered with 422
	nextID        int64
	status        int // when set, every request fails with it
	requests      []string
}

func newFakeChatwoot(t *testing.T) (*fakeChatwoot, *Client) {
	t.Helper()
	f := &fakeChatwoot{
		conversations: map[int64][]string{},
		contactConvs:  map[int64][]int64{},
		notes:         map[int64][]string{},
		stickyLabels:  map[string]bool{},
		rejectCreate:  map[string]bool{},
		nextID:        1000,
	}
	srv := httptest.NewServer(f.routes())
	t.Cleanup(srv.Close)
	return f, NewClient(Config{URL: srv.URL, APIKey: "secret", AccountID: "1"})
}

func (f *fakeChatwoot) id(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.PathValue(name), 10, 64)
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeChatwoot) routes() http.Handler {
	mux := http.NewServeMux()
	const base = "/api/v1/accounts/1"

	mux.HandleFunc("GET "+base+"/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := f.id(r, "id")
		labels, ok := f.conversations[id]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, Conversation{ID: id, Labels: labels})
	})
	mux.HandleFunc("POST "+base+"/conversations/{id}/labels", func(w http.ResponseWriter, r *http.Request) {
		id := f.id(r, "id")
		var body struct {
			Labels []string `json:"labels"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		cur := f.conversations[id]
		for _, l := range body.Labels {
			found := false
			for _, c := range cur {
				found = found || c == l
			}
			if !found {
				cur = append(cur, l)
			}
		}
		f.conversations[id] = cur
		writeJSON(w, map[string]any{"payload": cur})
	})
	mux.HandleFunc("DELETE "+base+"/conversations/{id}/labels/{label}", func(w http.ResponseWriter, r *http.Request) {
		id, label := f.id(r, "id"), r.PathValue("label")
		if f.stickyLabels[label] {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		var kept []string
		for _, l := range f.conversations[id] {
			if l != label {
				kept = append(kept, l)
			}
		}
		f.conversations[id] = kept
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST "+base+"/conversations", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			InboxID   int64 `json:"inbox_id"`
			ContactID int64 `json:"contact_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.nextID++
		f.conversations[f.nextID] = nil
		f.contactConvs[body.ContactID] = append(f.contactConvs[body.ContactID], f.nextID)
		writeJSON(w, Conversation{ID: f.nextID})
	})
	mux.HandleFunc("GET "+base+"/contacts/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		var hits []Contact
		for _, c := range f.contacts {
			if q != "" && (c.Email == q || c.PhoneNumber == q || c.Name == q) {
				hits = append(hits, c)
			}
		}
		writeJSON(w, map[string]any{"payload": hits})
	})
	mux.HandleFunc("POST "+base+"/contacts", func(w http.ResponseWriter, r *http.Request) {
		var nc NewContact
		_ = json.NewDecoder(r.Body).Decode(&nc)
		for _, c := range f.contacts {
			if nc.PhoneNumber != "" && c.PhoneNumber == nc.PhoneNumber {
				http.Error(w, `{"message":"Phone number has already been taken"}`, http.StatusUnprocessableEntity)
				return
			}
		}
		f.nextID++
		c := Contact{ID: f.nextID, Name: nc.Name, Email: nc.Email, PhoneNumber: nc.PhoneNumber}
		f.contacts = append(f.contacts, c)
		writeJSON(w, map[string]any{"payload": map[string]any{"contact": c}})
	})
	mux.HandleFunc("GET "+base+"/contacts/{id}/conversations", func(w http.ResponseWriter, r *http.Request) {
		var convs []Conversation
		for _, id := range f.contactConvs[f.id(r, "id")] {
			convs = append(convs, Conversation{ID: id, Labels: f.conversations[id]})
		}
		writeJSON(w, map[string]any{"payload": convs})
	})
	mux.HandleFunc("POST "+base+"/contacts/{id}/notes", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Note struct {
				Content string `json:"content"`
			} `json:"note"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		id := f.id(r, "id")
		f.notes[id] = append(f.notes[id], body.Note.Content)
		writeJSON(w, map[string]any{"id": len(f.notes[id])})
	})
	mux.HandleFunc("GET "+base+"/inboxes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"payload": f.inboxes})
	})
	mux.HandleFunc("GET "+base+"/labels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"payload": f.labels})
	})
	mux.HandleFunc("POST "+base+"/labels", func(w http.ResponseWriter, r *http.Request) {
		var l Label
		_ = json.NewDecoder(r.Body).Decode(&l)
		if f.rejectCreate[l.Title] {
			f.nextID++
			f.labels = append(f.labels, Label{ID: f.nextID, Title: l.Title, Color: "#000000"})
			http.Error(w, `{"message":"Title has already been taken"}`, http.StatusUnprocessableEntity)
			return
		}
		f.nextID++
		l.ID = f.nextID
		f.labels = append(f.labels, l)
		writeJSON(w, l)
	})
	mux.HandleFunc("PATCH "+base+"/labels/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body Label
		_ = json.NewDecoder(r.Body).Decode(&body)
		id := f.id(r, "id")
		for i := range f.labels {
			if f.labels[i].ID == id {
				f.labels[i].Color = body.Color
				f.labels[i].Description = body.Description
			}
		}
		writeJSON(w, map[string]any{"id": id})
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		if r.Header.Get("api_access_token") != "secret" {
			http.Error(w, `{"error":"Invalid Access Token"}`, http.StatusUnauthorized)
			return
		}
		if f.status != 0 {
			http.Error(w, `{"error":"forced"}`, f.status)
			return
		}
		mux.ServeHTTP(w, r)
	})
}
