package service_test

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satyajitghana/sd3-ui/config"
	"github.com/satyajitghana/sd3-ui/handler"
	"github.com/satyajitghana/sd3-ui/pkg/pipeline"
	"github.com/satyajitghana/sd3-ui/service"
)

type fakePipeline struct {
	err error
}

func (f *fakePipeline) Generate(_ context.Context, req pipeline.GenerateRequest) ([]image.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	images := make([]image.Image, len(req.Prompts))
	for i := range images {
		images[i] = image.NewNRGBA(image.Rect(0, 0, 4, 3))
	}
	return images, nil
}

func (f *fakePipeline) SetDevice(pipeline.Device) {}

func (f *fakePipeline) Close() error { return nil }

func makeModelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "sd3-model.zip"))
	require.NoError(t, err)
	defer f.Close()
	zw := zip.NewWriter(f)
	w, err := zw.Create("model_index.json")
	require.NoError(t, err)
	_, err = w.Write([]byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return dir
}

func newTestService(t *testing.T, pipe *fakePipeline) *service.Service {
	t.Helper()
	s := service.NewService(&config.Config{})
	s.Handler.Loader = func(string) (pipeline.Pipeline, error) { return pipe, nil }
	require.NoError(t, s.Handler.Initialize(&handler.Context{ModelDir: makeModelDir(t)}))
	return s
}

func postPredictions(s *service.Service, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	_ = s.HandlePredictions(c)
	return rec
}

func TestHandlePredictions(t *testing.T) {
	t.Run("returns one pixel array per request", func(t *testing.T) {
		s := newTestService(t, &fakePipeline{})
		rec := postPredictions(s, `[{"data":"cat"},{"body":"dog"}]`)

		require.Equal(t, http.StatusOK, rec.Code)

		var arrays [][][][]uint8
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &arrays))
		require.Len(t, arrays, 2)
		// rows x columns x RGB
		require.Len(t, arrays[0], 3)
		require.Len(t, arrays[0][0], 4)
		require.Len(t, arrays[0][0][0], 3)
	})

	t.Run("inference failure fails the batch", func(t *testing.T) {
		s := newTestService(t, &fakePipeline{err: errors.New("out of memory")})
		rec := postPredictions(s, `[{"data":"cat"}]`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("request without payload", func(t *testing.T) {
		s := newTestService(t, &fakePipeline{})
		rec := postPredictions(s, `[{"email":"user@example.com"}]`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty batch", func(t *testing.T) {
		s := newTestService(t, &fakePipeline{})
		rec := postPredictions(s, `[]`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		s := newTestService(t, &fakePipeline{})
		rec := postPredictions(s, `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetRequestStatusWithoutDB(t *testing.T) {
	s := newTestService(t, &fakePipeline{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/request/1", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")

	require.NoError(t, s.GetRequestStatus(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGenerationObjectName(t *testing.T) {
	t.Run("unique per upload without a history id", func(t *testing.T) {
		first := service.GenerationObjectName(-1)
		second := service.GenerationObjectName(-1)
		assert.NotEqual(t, first, second)
	})

	t.Run("carries the history id", func(t *testing.T) {
		name := service.GenerationObjectName(42)
		assert.True(t, strings.HasPrefix(name, "generation_42_"))
		assert.True(t, strings.HasSuffix(name, ".png"))
	})
}
