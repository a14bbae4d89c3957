package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"pestvision-backend/internal/auth"
	"pestvision-backend/internal/database"
	"pestvision-backend/internal/prediction"
	"pestvision-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

// maxUploadMemory bounds the in-memory portion of multipart parsing; larger
// parts spill to temp files.
const maxUploadMemory = 8 << 20

type BackendService struct {
	db       *gorm.DB
	workflow *prediction.Workflow
	auth     *auth.Service
}

func NewBackendService(db *gorm.DB, workflow *prediction.Workflow, authService *auth.Service) *BackendService {
	return &BackendService{db: db, workflow: workflow, auth: authService}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Post("/users", RestHandler(s.CreateUser))
	r.Route("/predictions", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/", RestHandler(s.SubmitPrediction))
		r.Get("/", RestHandler(s.ListPredictions))
		r.Get("/{prediction_id}", RestHandler(s.GetPrediction))
	})
}

func (s *BackendService) CreateUser(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateUserRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateUsername(req.Username); err != nil {
		return nil, err
	}

	user, apiKey, err := s.auth.CreateUser(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, CodedErrorf(http.StatusConflict, "username '%s' is already taken", req.Username)
		}
		slog.Error("error creating user", "username", req.Username, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create user")
	}

	slog.Info("created user", "user_id", user.Id, "username", user.Username)
	return api.CreateUserResponse{UserId: user.Id, ApiKey: apiKey}, nil
}

func (s *BackendService) SubmitPrediction(r *http.Request) (any, error) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil, CodedErrorf(http.StatusUnauthorized, "authentication required")
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form")
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "missing 'image' form file")
	}
	defer file.Close()

	// Read one byte past the ceiling so the validator can reject oversized
	// files without buffering them whole.
	data, err := io.ReadAll(io.LimitReader(file, prediction.MaxImageBytes+1))
	if err != nil {
		slog.Error("error reading uploaded file", "error", err)
		return nil, CodedErrorf(http.StatusBadRequest, "unable to read uploaded file")
	}

	sel, err := prediction.ValidateFile(header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}

	ctx := r.Context()

	outcome, err := s.workflow.Submit(ctx, user.Id, sel)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "%s", prediction.GenericFailureMessage)
	}

	response := api.SubmitPredictionResponse{
		Record: convertPrediction(outcome.Record),
		Result: api.DetectionResult{
			PestId:     outcome.Result.Label,
			Confidence: outcome.Result.Confidence,
			CreatedAt:  outcome.Record.Timestamp,
		},
		Preview: sel.Preview,
	}

	// The refreshed history strictly follows the record write. A reload
	// failure is observational and never fails the submission.
	records, err := s.workflow.History(ctx, user.Id, 0, 0)
	if err != nil {
		slog.Error("error reloading history after submission", "user_id", user.Id, "error", err)
	} else {
		response.History = convertPredictions(records)
	}

	return response, nil
}

func (s *BackendService) ListPredictions(r *http.Request) (any, error) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil, CodedErrorf(http.StatusUnauthorized, "authentication required")
	}

	params, err := ParseRequestQueryParams[api.ListPredictionsParams](r)
	if err != nil {
		return nil, err
	}

	records, err := s.workflow.History(r.Context(), user.Id, params.Limit, params.Offset)
	if err != nil {
		slog.Error("error listing predictions", "user_id", user.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving prediction records")
	}

	return api.ListPredictionsResponse{Predictions: convertPredictions(records)}, nil
}

func (s *BackendService) GetPrediction(r *http.Request) (any, error) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil, CodedErrorf(http.StatusUnauthorized, "authentication required")
	}

	predictionId, err := URLParamUUID(r, "prediction_id")
	if err != nil {
		return nil, err
	}

	var record database.Prediction
	if err := s.db.WithContext(r.Context()).First(&record, "id = ? AND user_id = ?", predictionId, user.Id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "prediction not found")
		}
		slog.Error("error getting prediction", "prediction_id", predictionId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving prediction record")
	}

	return convertPrediction(record), nil
}
