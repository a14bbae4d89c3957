package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	backend "pestvision-backend/internal/api"
	"pestvision-backend/internal/auth"
	"pestvision-backend/internal/classifier"
	"pestvision-backend/internal/database"
	"pestvision-backend/internal/messaging"
	"pestvision-backend/internal/prediction"
	"pestvision-backend/internal/storage"
	"pestvision-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeStore struct {
	objects map[string][]byte
	putErr  error
}

var _ storage.ObjectStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) CreateBucket(ctx context.Context) error { return nil }

func (s *fakeStore) PutObject(ctx context.Context, key string, data io.Reader) error {
	if s.putErr != nil {
		return s.putErr
	}
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.objects[key] = content
	return nil
}

func (s *fakeStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	content, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *fakeStore) DeleteObject(ctx context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) ListObjects(ctx context.Context, prefix string) ([]storage.Object, error) {
	var objects []storage.Object
	for key, content := range s.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, storage.Object{Name: key, Size: int64(len(content))})
		}
	}
	return objects, nil
}

func (s *fakeStore) ObjectURL(ctx context.Context, key string) (string, error) {
	return "http://objects.test/" + key, nil
}

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	return db
}

func setupService(t *testing.T, store *fakeStore) (chi.Router, *gorm.DB) {
	t.Helper()

	db := createDB(t)
	authService := auth.NewService(db)
	workflow := prediction.NewWorkflow(db, store, classifier.NewStaticClassifier("aphid", 0.87, 0), messaging.NewInMemoryQueue())

	service := backend.NewBackendService(db, workflow, authService)
	router := chi.NewRouter()
	service.AddRoutes(router)

	return router, db
}

func createTestUser(t *testing.T, router http.Handler, username string) (uuid.UUID, string) {
	t.Helper()

	body, err := json.Marshal(api.CreateUserRequest{Username: username})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

	var response api.CreateUserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	return response.UserId, response.ApiKey
}

func createImageForm(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	buf := new(bytes.Buffer)
	writer := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func submitImage(t *testing.T, router http.Handler, apiKey, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()

	buf, formContentType := createImageForm(t, filename, contentType, data)

	req := httptest.NewRequest(http.MethodPost, "/predictions", buf)
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _ := setupService(t, newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateUserRejectsBadUsername(t *testing.T) {
	router, _ := setupService(t, newFakeStore())

	body, err := json.Marshal(api.CreateUserRequest{Username: "not a valid name!"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateUserRejectsDuplicateUsername(t *testing.T) {
	router, _ := setupService(t, newFakeStore())
	createTestUser(t, router, "grower1")

	body, err := json.Marshal(api.CreateUserRequest{Username: "grower1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already taken")
}

func TestSubmitPredictionRequiresAuth(t *testing.T) {
	store := newFakeStore()
	router, db := setupService(t, store)

	buf, formContentType := createImageForm(t, "leaf.jpg", "image/jpeg", []byte("image bytes"))

	req := httptest.NewRequest(http.MethodPost, "/predictions", buf)
	req.Header.Set("Content-Type", formContentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, store.objects)

	var count int64
	require.NoError(t, db.Model(&database.Prediction{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestSubmitPredictionRejectsNonImage(t *testing.T) {
	store := newFakeStore()
	router, _ := setupService(t, store)
	_, apiKey := createTestUser(t, router, "grower1")

	rec := submitImage(t, router, apiKey, "doc.pdf", "application/pdf", []byte("%PDF-1.4"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please select an image file")
	assert.Empty(t, store.objects)
}

func TestSubmitPredictionRejectsOversizedImage(t *testing.T) {
	store := newFakeStore()
	router, _ := setupService(t, store)
	_, apiKey := createTestUser(t, router, "grower1")

	data := bytes.Repeat([]byte{0xff}, prediction.MaxImageBytes+1)
	rec := submitImage(t, router, apiKey, "big.jpg", "image/jpeg", data)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Image size should be less than 5MB")
	assert.Empty(t, store.objects)
}

func TestSubmitPredictionMissingFile(t *testing.T) {
	router, _ := setupService(t, newFakeStore())
	_, apiKey := createTestUser(t, router, "grower1")

	buf := new(bytes.Buffer)
	writer := multipart.NewWriter(buf)
	require.NoError(t, writer.WriteField("note", "no file here"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/predictions", buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitPrediction(t *testing.T) {
	store := newFakeStore()
	router, db := setupService(t, store)
	userId, apiKey := createTestUser(t, router, "grower1")

	rec := submitImage(t, router, apiKey, "leaf.jpg", "image/jpeg", []byte("fake jpeg bytes"))

	require.Equal(t, http.StatusOK, rec.Code, "received response: "+rec.Body.String())

	var response api.SubmitPredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	assert.Equal(t, "leaf.jpg", response.Record.ImageName)
	assert.Equal(t, "aphid", response.Record.PredictedClass)
	assert.Equal(t, 0.87, response.Record.Confidence)
	require.NotNil(t, response.Record.ImageUrl)
	assert.True(t, strings.HasPrefix(*response.Record.ImageUrl, "http://objects.test/predictions/"+userId.String()+"/"))

	assert.Equal(t, "aphid", response.Result.PestId)
	assert.True(t, strings.HasPrefix(response.Preview, "data:image/jpeg;base64,"))

	// The response carries the refreshed history.
	require.Len(t, response.History, 1)
	assert.Equal(t, response.Record.Id, response.History[0].Id)

	// Exactly one object and one record were written.
	assert.Len(t, store.objects, 1)
	var count int64
	require.NoError(t, db.Model(&database.Prediction{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSubmitPredictionUploadFailure(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("bucket unavailable")
	router, db := setupService(t, store)
	_, apiKey := createTestUser(t, router, "grower1")

	rec := submitImage(t, router, apiKey, "leaf.jpg", "image/jpeg", []byte("fake jpeg bytes"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to process image")

	var count int64
	require.NoError(t, db.Model(&database.Prediction{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestListPredictions(t *testing.T) {
	router, db := setupService(t, newFakeStore())
	userId, apiKey := createTestUser(t, router, "grower1")
	otherId, _ := createTestUser(t, router, "grower2")

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, offset := range []int{2, 0, 3, 1} {
		require.NoError(t, db.Create(&database.Prediction{
			Id:             uuid.New(),
			UserId:         userId,
			ImageName:      "leaf.jpg",
			ObjectKey:      "predictions/key",
			PredictedClass: "aphid",
			Confidence:     0.5,
			Timestamp:      base.Add(time.Duration(offset) * time.Minute),
		}).Error, "record %d", i)
	}
	require.NoError(t, db.Create(&database.Prediction{
		Id:             uuid.New(),
		UserId:         otherId,
		ImageName:      "other.jpg",
		ObjectKey:      "predictions/other",
		PredictedClass: "aphid",
		Confidence:     0.5,
		Timestamp:      base.Add(time.Hour),
	}).Error)

	req := httptest.NewRequest(http.MethodGet, "/predictions", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response api.ListPredictionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))

	// Only this user's records, strictly descending by timestamp.
	require.Len(t, response.Predictions, 4)
	for i := 1; i < len(response.Predictions); i++ {
		assert.True(t, !response.Predictions[i].Timestamp.After(response.Predictions[i-1].Timestamp))
	}

	t.Run("Limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/predictions?limit=2", nil)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var limited api.ListPredictionsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limited))
		require.Len(t, limited.Predictions, 2)
		assert.Equal(t, response.Predictions[0].Id, limited.Predictions[0].Id)
	})
}

func TestGetPrediction(t *testing.T) {
	router, db := setupService(t, newFakeStore())
	userId, apiKey := createTestUser(t, router, "grower1")
	otherId, _ := createTestUser(t, router, "grower2")

	mine := uuid.New()
	theirs := uuid.New()
	require.NoError(t, db.Create(&database.Prediction{
		Id: mine, UserId: userId, ImageName: "leaf.jpg", ObjectKey: "k1",
		PredictedClass: "aphid", Confidence: 0.5, Timestamp: time.Now().UTC(),
	}).Error)
	require.NoError(t, db.Create(&database.Prediction{
		Id: theirs, UserId: otherId, ImageName: "other.jpg", ObjectKey: "k2",
		PredictedClass: "aphid", Confidence: 0.5, Timestamp: time.Now().UTC(),
	}).Error)

	t.Run("OwnRecord", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/predictions/"+mine.String(), nil)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var record api.PredictionRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
		assert.Equal(t, mine, record.Id)
	})

	t.Run("OtherUsersRecord", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/predictions/"+theirs.String(), nil)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("BadId", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/predictions/not-a-uuid", nil)
		req.Header.Set("Authorization", "Bearer "+apiKey)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
