package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
	"github.com/MeKo-Tech/stereowls/internal/testutil"
)

// newTestServer builds a server with a small disparity range. mutate may
// adjust the configuration first.
func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *http.ServeMux) {
	t.Helper()

	pc := pipeline.DefaultConfig()
	pc.NumDisparities = 16
	pc.Workers = 2
	cfg := Config{
		CORSOrigin:     "*",
		MaxUploadMB:    5,
		TimeoutSec:     30,
		PipelineConfig: pc,
		SampleType:     imgbuf.U16,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return s, mux
}

// planarUpload returns PNG files of a 96x40 pair with disparity d.
func planarUpload(t *testing.T, d int) map[string][]byte {
	t.Helper()
	left, right := testutil.PlanarPair(96, 40, d, 7)
	return map[string][]byte{
		"left":  testutil.EncodePNG(t, left),
		"right": testutil.EncodePNG(t, right),
	}
}

// multipartRequest builds a POST with the given files and form fields.
func multipartRequest(t *testing.T, path string, files map[string][]byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		fw, err := mw.CreateFormFile(name, name+".png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeDepthResponse(t *testing.T, w *httptest.ResponseRecorder) DepthResponse {
	t.Helper()
	var resp DepthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// decodeImage decodes a base64 PNG from a JSON result.
func decodeImage(t *testing.T, b64 string) *imgbuf.Mat {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	m, _, err := depthio.Decode(bytes.NewReader(data), imgbuf.ReadUnchanged)
	require.NoError(t, err)
	return m
}
