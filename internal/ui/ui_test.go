package ui

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aigoflow/crash-insight/internal/dataset"
)

type fakeAssistant struct {
	mu        sync.Mutex
	summaries int
	summary   string
	lastRow   int
}

func (f *fakeAssistant) Summarize(ctx context.Context, rec *dataset.Record) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries++
	f.lastRow = rec.Index
	return f.summary
}

func (f *fakeAssistant) Chat(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty")
	}
	return "echo: " + text, nil
}

func testStore() *dataset.Store {
	return dataset.FromRecords(
		dataset.NewRecord(0, map[string]string{dataset.ColWeather: "Clear", dataset.ColDay: "Monday"}),
		dataset.NewRecord(0, map[string]string{dataset.ColWeather: "Rain", dataset.ColDay: "nan"}),
		dataset.NewRecord(0, map[string]string{dataset.ColWeather: "Snow"}),
	)
}

func newTestUI(t *testing.T, a Assistant) (*Server, *httptest.Server, *http.Client) {
	t.Helper()
	s := NewServer(":0", testStore(), a)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	jar, _ := cookiejar.New(nil)
	return s, srv, &http.Client{Jar: jar}
}

func get(t *testing.T, c *http.Client, u string) (int, string) {
	t.Helper()
	resp, err := c.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func post(t *testing.T, c *http.Client, u string, form url.Values) (int, string) {
	t.Helper()
	resp, err := c.PostForm(u, form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestHomeAndNotFound(t *testing.T) {
	_, srv, c := newTestUI(t, &fakeAssistant{})

	status, body := get(t, c, srv.URL+"/")
	if status != http.StatusOK || !strings.Contains(body, "Crash Insight AI") {
		t.Errorf("GET / = %d", status)
	}
	if status, _ := get(t, c, srv.URL+"/missing"); status != http.StatusNotFound {
		t.Errorf("GET /missing = %d", status)
	}
}

func TestAppCardShowsUnknownForAbsentFields(t *testing.T) {
	_, srv, c := newTestUI(t, &fakeAssistant{})

	status, body := get(t, c, srv.URL+"/app")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	for _, want := range []string{"Row 1 of 3", "Clear", "Monday", "Reporting Agency", "unknown"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(body, "Crash Summary from Model") {
		t.Error("summary shown before inference")
	}
}

func TestInferThenNextKeepsSummary(t *testing.T) {
	fa := &fakeAssistant{summary: "**Minor** crash. <script>alert(1)</script>"}
	s, srv, c := newTestUI(t, fa)

	_, body := post(t, c, srv.URL+"/app/infer", nil)
	fa.mu.Lock()
	summaries, row := fa.summaries, fa.lastRow
	fa.mu.Unlock()
	if summaries != 1 || row != 0 {
		t.Fatalf("summaries = %d, row = %d", summaries, row)
	}
	if !strings.Contains(body, "<strong>Minor</strong> crash.") {
		t.Errorf("summary not rendered as markdown: %s", body)
	}
	if strings.Contains(body, "<script>alert") {
		t.Error("raw HTML from model reached the page")
	}

	_, body = post(t, c, srv.URL+"/app/next", nil)
	if strings.Contains(body, "Row 1 of 3") {
		t.Error("Next Row did not move")
	}
	if !strings.Contains(body, "Crash Summary from Model") {
		t.Error("Next Row cleared the summary")
	}
	if s.sessions.Len() != 1 {
		t.Errorf("sessions = %d, want 1", s.sessions.Len())
	}
}

func TestAbortedInferKeepsEarlierSummary(t *testing.T) {
	fa := &fakeAssistant{summary: "No summary available."}
	s, _, _ := newTestUI(t, fa)

	sess := s.sessions.Create()
	sess.summary = "**Minor** crash."

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/app/infer", nil).WithContext(ctx)
	req.AddCookie(sess.Cookie())
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	fa.mu.Lock()
	summaries := fa.summaries
	fa.mu.Unlock()
	if summaries != 1 {
		t.Fatalf("summaries = %d, want 1", summaries)
	}
	if sess.summary != "**Minor** crash." {
		t.Errorf("summary = %q, want earlier summary kept", sess.summary)
	}
}

func TestNextAlwaysChangesRow(t *testing.T) {
	s, _, _ := newTestUI(t, &fakeAssistant{})
	sess := s.sessions.Create()
	req := httptest.NewRequest(http.MethodPost, "/app/next", nil)
	req.AddCookie(sess.Cookie())

	for i := 0; i < 50; i++ {
		before := sess.row
		s.Handler().ServeHTTP(httptest.NewRecorder(), req)
		if sess.row == before {
			t.Fatalf("iteration %d: row stayed %d", i, before)
		}
	}
}

func TestChatForm(t *testing.T) {
	_, srv, c := newTestUI(t, &fakeAssistant{})

	post(t, c, srv.URL+"/chat", url.Values{"message": {"   "}})
	_, body := post(t, c, srv.URL+"/chat", url.Values{"message": {"how do I stay safe?"}})

	if !strings.Contains(body, "echo: how do I stay safe?") {
		t.Errorf("reply missing: %s", body)
	}
	if n := strings.Count(body, `class="msg"`); n != 2 {
		t.Errorf("history has %d lines, want 2", n)
	}
}

func TestChatWebSocket(t *testing.T) {
	s, srv, _ := newTestUI(t, &fakeAssistant{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if !strings.Contains(resp.Header.Get("Set-Cookie"), CookieName) {
		t.Error("websocket handshake did not set a session cookie")
	}

	if err := conn.WriteJSON(wsRequest{Message: ""}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(wsRequest{Message: "hello"}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Sender != SenderAssistant || msg.Text != "echo: hello" {
		t.Errorf("msg = %+v", msg)
	}
	if s.sessions.Len() != 1 {
		t.Errorf("sessions = %d", s.sessions.Len())
	}
}

func TestMarkdown(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"Drive slower.", "<p>Drive slower.</p>\n"},
		{"**Severe**", "<p><strong>Severe</strong></p>\n"},
		{"Severity is likely < 3 when speed > 50 km/h.", "<p>Severity is likely &lt; 3 when speed &gt; 50 km/h.</p>\n"},
		{"Keep speed <50 km/h and distance >2 s.", "<p>Keep speed &lt;50 km/h and distance &gt;2 s.</p>\n"},
		{"<b>x</b>", "<p>&lt;b&gt;x&lt;/b&gt;</p>\n"},
	}
	for _, tt := range tests {
		if got := string(Markdown(tt.in)); got != tt.want {
			t.Errorf("Markdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMarkdownBlockHTMLIsEscaped(t *testing.T) {
	got := string(Markdown("<div onclick=\"x()\">hi</div>"))
	if strings.Contains(got, "<div") {
		t.Fatalf("raw html reached the page: %q", got)
	}
	if !strings.Contains(got, "&lt;div") || !strings.Contains(got, "hi") {
		t.Errorf("Markdown = %q, want escaped literal", got)
	}
}

func TestSweep(t *testing.T) {
	st := NewSessionStore()
	old := st.Create()
	old.lastSeen = time.Now().Add(-48 * time.Hour)
	st.Create()

	if n := st.Sweep(24 * time.Hour); n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if st.Len() != 1 {
		t.Errorf("len = %d", st.Len())
	}
}
