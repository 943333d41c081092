package httpserver

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestEndToEndCreateViewRaw(t *testing.T) {
	env := newTestEnv(t, time.Hour, "")

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Timeout: 5 * time.Second, Jar: jar, CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	form := url.Values{}
	form.Set("content", "hello world")
	form.Set("author", "Grace Hopper")
	form.Set("language", "text")
	form.Set("password", "pw")

	resp, err := client.PostForm(ts.URL+"/pastes", form)
	if err != nil {
		t.Fatalf("post form: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected 303 got %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		t.Fatalf("missing location header")
	}

	viewResp, err := client.Get(ts.URL + loc)
	if err != nil {
		t.Fatalf("get view: %v", err)
	}
	body, err := io.ReadAll(viewResp.Body)
	viewResp.Body.Close()
	if err != nil {
		t.Fatalf("read view: %v", err)
	}
	if viewResp.StatusCode != http.StatusOK {
		t.Fatalf("view status %d", viewResp.StatusCode)
	}
	if !strings.Contains(string(body), "hello world") || !strings.Contains(string(body), "Grace Hopper") {
		t.Fatalf("view missing content")
	}

	rawResp, err := client.Get(ts.URL + loc + "/raw")
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	rawBody, err := io.ReadAll(rawResp.Body)
	rawResp.Body.Close()
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if rawResp.StatusCode != http.StatusOK {
		t.Fatalf("raw status %d", rawResp.StatusCode)
	}
	if string(rawBody) != "hello world" {
		t.Fatalf("raw body mismatch")
	}

	metricsResp, err := client.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	metricsBody, _ := io.ReadAll(metricsResp.Body)
	metricsResp.Body.Close()
	if !strings.Contains(string(metricsBody), "pasteit_pastes_created_total") {
		t.Fatalf("metrics missing paste counter")
	}
}
