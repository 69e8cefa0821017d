package main

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHomePageLinksToGameRoot(t *testing.T) {
	cfg := testConfig()
	cfg.prefix = "/games"

	rec := httptest.NewRecorder()
	serveHomePage(cfg)(rec, httptest.NewRequest("GET", "/", nil), nil)

	if !strings.Contains(rec.Body.String(), `href="/games/survival"`) {
		t.Errorf("home page missing game link: %s", rec.Body.String())
	}
}
