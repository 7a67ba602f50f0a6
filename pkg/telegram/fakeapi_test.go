// Copyright 2024-2026 Aiku AI

package telegram

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

const testToken = "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi"

type apiCall struct {
	Method string
	Params map[string]any
	Files  map[string]string
}

func (c apiCall) param(key string) string {
	switch v := c.Params[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

// fakeBotAPI is an in-process Bot API server that records every call.
type fakeBotAPI struct {
	server *httptest.Server

	mu      sync.Mutex
	calls   []apiCall
	nextID  int
	errors  map[string]string
	results map[string]string
	files   map[string][]byte
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{
		nextID:  100,
		errors:  make(map[string]string),
		results: make(map[string]string),
		files:   make(map[string][]byte),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

// fail makes method respond with a Bot API error.
func (f *fakeBotAPI) fail(method string, code int, description string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[method] = fmt.Sprintf(`{"ok":false,"error_code":%d,"description":%q}`, code, description)
}

func (f *fakeBotAPI) respond(method, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[method] = result
}

func (f *fakeBotAPI) serveFile(path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = data
}

func (f *fakeBotAPI) callsOf(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	if rest, ok := strings.CutPrefix(r.URL.Path, "/file/bot"+testToken+"/"); ok {
		f.mu.Lock()
		data, found := f.files[rest]
		f.mu.Unlock()
		if !found {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
		return
	}
	method, ok := strings.CutPrefix(r.URL.Path, "/bot"+testToken+"/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	call := apiCall{Method: method, Params: make(map[string]any), Files: make(map[string]string)}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(32 << 20); err == nil {
			for key, values := range r.MultipartForm.Value {
				var decoded any
				if json.Unmarshal([]byte(values[0]), &decoded) == nil {
					call.Params[key] = decoded
				} else {
					call.Params[key] = values[0]
				}
			}
			for key, headers := range r.MultipartForm.File {
				call.Files[key] = headers[0].Filename
			}
		}
	} else {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &call.Params)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.nextID++
	id := f.nextID
	errBody, failing := f.errors[method]
	result, custom := f.results[method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failing {
		_, _ = io.WriteString(w, errBody)
		return
	}
	if !custom {
		result = defaultResult(method, id, call.param("chat_id"))
	}
	_, _ = fmt.Fprintf(w, `{"ok":true,"result":%s}`, result)
}

func defaultResult(method string, id int, chatID string) string {
	if chatID == "" {
		chatID = "1"
	}
	switch {
	case strings.HasPrefix(method, "send"), method == "editMessageText":
		return fmt.Sprintf(`{"message_id":%d,"date":0,"chat":{"id":%s,"type":"private"}}`, id, chatID)
	case method == "getUpdates":
		return `[]`
	}
	return `true`
}

func newTestBot(t *testing.T, api *fakeBotAPI) *Bot {
	t.Helper()
	bot, err := NewBot(BotConfig{Token: testToken, APIURL: api.server.URL, MessagesPerSecond: 1000}, zerolog.Nop())
	if err != nil {
		t.Fatalf("create bot: %v", err)
	}
	return bot
}
