package weather

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCurrent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "Москва" || q.Get("units") != "metric" || q.Get("lang") != "ru" {
			t.Errorf("query = %v", q)
		}
		fmt.Fprint(w, `{"name":"Москва","weather":[{"description":"ясно"}],
			"main":{"temp":21.4,"feels_like":20.1,"humidity":40},"wind":{"speed":3.2}}`)
	}))
	t.Cleanup(srv.Close)

	c, err := New("owm-key", WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := c.Current(t.Context(), "Москва")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if rep.City != "Москва" || rep.Description != "ясно" || rep.Humidity != 40 {
		t.Errorf("report = %+v", rep)
	}

	formatted := rep.Format()
	if !strings.Contains(formatted, "Москва") || !strings.Contains(formatted, "21°C") {
		t.Errorf("format = %q", formatted)
	}
}

func TestCurrentSoftSignRetry(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "Казань" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"name":"Казань","weather":[{"description":"облачно"}],
			"main":{"temp":15,"feels_like":14,"humidity":60},"wind":{"speed":5}}`)
	}))
	t.Cleanup(srv.Close)

	c, _ := New("owm-key", WithEndpoint(srv.URL))
	rep, err := c.Current(t.Context(), "Казан")
	if err != nil {
		t.Fatalf("Current with soft-sign retry: %v", err)
	}
	if rep.City != "Казань" {
		t.Errorf("city = %q, want Казань", rep.City)
	}
}

func TestCurrentUnknownCity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	c, _ := New("owm-key", WithEndpoint(srv.URL))
	if _, err := c.Current(t.Context(), "Нарния"); !errors.Is(err, ErrCityNotFound) {
		t.Fatalf("err = %v, want ErrCityNotFound", err)
	}
}

func TestIsWeatherQuery(t *testing.T) {
	t.Parallel()

	yes := []string{
		"какая погода в москве",
		"сколько градусов на улице",
		"будет ли дождь",
		"what's the weather like",
	}
	for _, s := range yes {
		if !IsWeatherQuery(s) {
			t.Errorf("%q should be a weather query", s)
		}
	}

	no := []string{"привет как дела", "расскажи анекдот"}
	for _, s := range no {
		if IsWeatherQuery(s) {
			t.Errorf("%q should not be a weather query", s)
		}
	}
}

func TestExtractCity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want string
	}{
		{"какая погода в москве", "москве"},
		{"погода во владивостоке", "владивостоке"},
		{"в питере погода норм?", "питере"},
		{"температура в казани", "казани"},
		{"какая погода", ""},
	}
	for _, tc := range tests {
		if got := ExtractCity(tc.text); got != tc.want {
			t.Errorf("ExtractCity(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
