package support

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
	"github.com/MeKo-Tech/stereowls/internal/server"
)

func (testCtx *TestContext) startServer(mutate func(*server.Config)) error {
	pc := pipeline.DefaultConfig()
	pc.NumDisparities = 16
	pc.Workers = 2
	cfg := server.Config{
		CORSOrigin:     "*",
		MaxUploadMB:    5,
		TimeoutSec:     30,
		PipelineConfig: pc,
		SampleType:     imgbuf.U16,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) theDepthServerIsRunning() error {
	return testCtx.startServer(nil)
}

func (testCtx *TestContext) theDepthServerIsRunningWithRateLimit(perMinute int) error {
	return testCtx.startServer(func(c *server.Config) {
		c.RateLimit = server.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: perMinute,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     500 * 1024 * 1024,
		}
	})
}

// do sends a request and records status, headers and body. The body is
// also stored as the last output so the JSON steps apply to it.
func (testCtx *TestContext) do(req *http.Request) error {
	if testCtx.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}
	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastOutput = testCtx.LastHTTPResponse
	testCtx.LastHTTPHeaders = map[string]string{}
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) iSendAGETRequestTo(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, testCtx.HTTPServer.URL+path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

// upload posts the scenario files as multipart fields. form is a query
// string such as "format=json&lambda=8000".
func (testCtx *TestContext) upload(path string, files map[string]string, form string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, name := range files {
		data, err := os.ReadFile(testCtx.Path(name))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			return err
		}
		if _, err := fw.Write(data); err != nil {
			return err
		}
	}
	values, err := url.ParseQuery(form)
	if err != nil {
		return fmt.Errorf("invalid form %q: %w", form, err)
	}
	for k := range values {
		if err := mw.WriteField(k, values.Get(k)); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, testCtx.HTTPServer.URL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) iUploadTheStereoPair(name, path string) error {
	return testCtx.iUploadTheStereoPairWithForm(name, path, "")
}

func (testCtx *TestContext) iUploadTheStereoPairWithForm(name, path, form string) error {
	return testCtx.upload(path, map[string]string{
		"left":  name + "_l.png",
		"right": name + "_r.png",
	}, form)
}

func (testCtx *TestContext) iUploadTheDepthMapWithGuide(depth, guide, path string) error {
	return testCtx.upload(path, map[string]string{"depth": depth, "guide": guide}, "")
}

func (testCtx *TestContext) iUploadTheDepthMap(depth, path string) error {
	return testCtx.upload(path, map[string]string{"depth": depth}, "")
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("status %d, want %d\nbody: %s", testCtx.LastHTTPStatusCode, code, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain %q\nbody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, want string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != want {
		return fmt.Errorf("header %s = %q, want %q", name, got, want)
	}
	return nil
}

// RegisterServerSteps registers the HTTP server steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the depth server is running$`, testCtx.theDepthServerIsRunning)
	sc.Step(`^the depth server is running with a limit of (\d+) requests per minute$`, testCtx.theDepthServerIsRunningWithRateLimit)
	sc.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendAGETRequestTo)
	sc.Step(`^I upload the stereo pair "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTheStereoPair)
	sc.Step(`^I upload the stereo pair "([^"]*)" to "([^"]*)" with form "([^"]*)"$`, testCtx.iUploadTheStereoPairWithForm)
	sc.Step(`^I upload the depth map "([^"]*)" with guide "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTheDepthMapWithGuide)
	sc.Step(`^I upload the depth map "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTheDepthMap)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
}
