package yellowfire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New("test-key",
		WithBaseURL(srv.URL),
		WithPollInterval(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestDefaultBaseURL(t *testing.T) {
	t.Parallel()

	c, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.baseURL != "https://yellowfire.ru/api/v2" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}

func TestGenerateText(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chatgpt", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "test-key" {
			t.Error("missing api-key header on create")
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode create body: %v", err)
		}
		if body["prompt"] != "привет" {
			t.Errorf("prompt = %v", body["prompt"])
		}
		if body["internet_access"] != false {
			t.Error("internet_access should be false")
		}
		json.NewEncoder(w).Encode(map[string]any{"request_id": "r1", "wait": 0})
	})
	mux.HandleFunc("GET /status/r1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "test-key" {
			t.Error("missing api-key header on poll")
		}
		// Two pending polls before completion.
		if polls.Add(1) < 3 {
			json.NewEncoder(w).Encode(map[string]any{"status": "processing"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "completed", "response": "здравствуй"})
	})

	c := testClient(t, mux)
	got, err := c.GenerateText(t.Context(), "привет", nil)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if got != "здравствуй" {
		t.Errorf("text = %q, want %q", got, "здравствуй")
	}
	if polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", polls.Load())
	}
}

func TestGenerateTextWrappedPayload(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chatgpt", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"request_id": "r2", "wait": 0})
	})
	mux.HandleFunc("GET /status/r2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "success",
			"response": map[string]string{"text": "ответ"},
		})
	})

	c := testClient(t, mux)
	got, err := c.GenerateText(t.Context(), "q", nil)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if got != "ответ" {
		t.Errorf("text = %q, want %q", got, "ответ")
	}
}

func TestGenerateTextJobFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chatgpt", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"request_id": "r3", "wait": 0})
	})
	mux.HandleFunc("GET /status/r3", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "failed", "error": "model overloaded"})
	})

	c := testClient(t, mux)
	if _, err := c.GenerateText(t.Context(), "q", nil); err == nil {
		t.Fatal("failed job should return an error")
	}
}

func TestPollTimeout(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chatgpt", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"request_id": "r4", "wait": 0})
	})
	mux.HandleFunc("GET /status/r4", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "processing"})
	})

	c := testClient(t, mux)
	_, err := c.GenerateText(t.Context(), "q", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestSynthesizeSpeech(t *testing.T) {
	t.Parallel()

	audio := []byte("fake-mp3-bytes")
	uri := "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tts", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "elevenlabs" || body["prompt"] != "привет" || body["voice"] != "adrian" {
			t.Errorf("tts body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"request_id": "t1", "wait": 0})
	})
	mux.HandleFunc("GET /status/t1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "completed",
			"response": map[string]any{"voice_model_v3": []string{uri}},
		})
	})

	c := testClient(t, mux)
	got, err := c.SynthesizeSpeech(t.Context(), "привет", "adrian")
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if string(got) != string(audio) {
		t.Errorf("audio = %q, want %q", got, audio)
	}
}

func TestCreateHTTPError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chatgpt", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	c := testClient(t, mux)
	if _, err := c.GenerateText(t.Context(), "q", nil); err == nil {
		t.Fatal("HTTP 401 on create should return an error")
	}
}

func TestHistoryForwarded(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chatgpt", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChatHistory []Message `json:"chat_history"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.ChatHistory) != 2 || body.ChatHistory[0].Role != "user" {
			t.Errorf("chat_history = %+v", body.ChatHistory)
		}
		json.NewEncoder(w).Encode(map[string]any{"request_id": "h1", "wait": 0})
	})
	mux.HandleFunc("GET /status/h1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"completed","response":"ok"}`)
	})

	c := testClient(t, mux)
	history := []Message{
		{Role: "user", Content: "как дела"},
		{Role: "assistant", Content: "нормально"},
	}
	if _, err := c.GenerateText(t.Context(), "q", history); err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
}
