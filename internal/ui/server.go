// Package ui serves the browser front end: a crash-record browser with
// on-demand summaries and a chat page.
package ui

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/aigoflow/crash-insight/internal/dataset"
	"github.com/aigoflow/crash-insight/internal/prompt"
)

const (
	// SenderUser and SenderAssistant label chat lines.
	SenderUser      = "You"
	SenderAssistant = "Crash Insight AI"

	sessionIdle     = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
)

// Assistant is what the pages need from the model.
type Assistant interface {
	Summarize(ctx context.Context, rec *dataset.Record) string
	Chat(ctx context.Context, text string) (string, error)
}

type Server struct {
	addr      string
	data      *dataset.Store
	assistant Assistant
	sessions  *SessionStore
	pages     map[string]*template.Template

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewServer(addr string, data *dataset.Store, a Assistant) *Server {
	return &Server{
		addr:      addr,
		data:      data,
		assistant: a,
		sessions:  NewSessionStore(),
		pages:     parsePages(),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome)
	mux.HandleFunc("/app", s.handleApp)
	mux.HandleFunc("/app/infer", s.handleInfer)
	mux.HandleFunc("/app/next", s.handleNext)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/chat/ws", s.handleChatWS)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweepSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("UI server starting", "addr", s.addr, "rows", s.data.Len())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("UI server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Sweep(sessionIdle); n > 0 {
				slog.Info("Expired idle sessions", "count", n)
			}
		}
	}
}

func (s *Server) render(w http.ResponseWriter, page string, data interface{}) {
	var buf bytes.Buffer
	if err := s.pages[page].Execute(&buf, data); err != nil {
		slog.Error("Failed to render page", "page", page, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.render(w, "home", nil)
}

type cardField struct {
	Icon  string
	Label string
	Value string
}

type appPage struct {
	HasData   bool
	RowNumber int
	Total     int
	Columns   [][]cardField
	Summary   template.HTML
}

func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := s.sessions.Get(w, r)
	sess.mu.Lock()
	row, summary := sess.row, sess.summary
	sess.mu.Unlock()

	page := appPage{Total: s.data.Len(), Summary: Markdown(summary)}
	if rec, err := s.data.Row(row); err == nil {
		page.HasData = true
		page.RowNumber = row + 1
		page.Columns = cardColumns(rec)
	}
	s.render(w, "app", page)
}

// cardColumns splits the display fields into two columns.
func cardColumns(rec *dataset.Record) [][]cardField {
	fields := make([]cardField, 0, len(prompt.DisplayFields))
	for _, f := range prompt.DisplayFields {
		fields = append(fields, cardField{Icon: f.Icon, Label: f.Label, Value: rec.Get(f.Column)})
	}
	half := len(fields) / 2
	return [][]cardField{fields[:half], fields[half:]}
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := s.sessions.Get(w, r)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	rec, err := s.data.Row(sess.row)
	if err != nil {
		slog.Warn("No record for session", "session", sess.ID, "row", sess.row, "error", err)
		http.Redirect(w, r, "/app", http.StatusSeeOther)
		return
	}
	summary := s.assistant.Summarize(r.Context(), rec)
	if r.Context().Err() != nil {
		// browser went away; keep whatever summary the session already had
		return
	}
	sess.summary = summary
	http.Redirect(w, r, "/app", http.StatusSeeOther)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess := s.sessions.Get(w, r)
	sess.mu.Lock()
	s.rndMu.Lock()
	sess.row = s.data.RandomOther(sess.row, s.rnd)
	s.rndMu.Unlock()
	sess.mu.Unlock()
	http.Redirect(w, r, "/app", http.StatusSeeOther)
}

// HTML renders the message text as markdown.
func (m Message) HTML() template.HTML {
	return Markdown(m.Text)
}

type chatPage struct {
	History []Message
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Get(w, r)

	switch r.Method {
	case http.MethodGet:
		sess.mu.Lock()
		history := append([]Message(nil), sess.history...)
		sess.mu.Unlock()
		s.render(w, "chat", chatPage{History: history})

	case http.MethodPost:
		s.chatTurn(r.Context(), sess, r.FormValue("message"))
		http.Redirect(w, r, "/chat", http.StatusSeeOther)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// chatTurn records text and the assistant's reply in the session history
// and returns the reply. ok is false for blank text.
func (s *Server) chatTurn(ctx context.Context, sess *Session, text string) (reply string, ok bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	reply, err := s.assistant.Chat(ctx, text)
	if err != nil {
		return "", false
	}
	sess.history = append(sess.history,
		Message{Sender: SenderUser, Text: text},
		Message{Sender: SenderAssistant, Text: reply})
	return reply, true
}
