package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"herbledger/internal/domain"
	"herbledger/internal/engine"
	"herbledger/internal/ledger"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"geo_fence_violation"`
	Message string         `json:"message" example:"collection location is outside the allowed geo-fence"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"id\":\"event-1\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the HerbLedger API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 bad_request; 422 is
			// reserved for rule rejections.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Store))
	hcfg := huma.DefaultConfig("HerbLedger API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTags(group, cfg.Engine)
	registerCollections(group, cfg.Engine)
	registerTransports(group, cfg.Engine)
	registerProcessing(group, cfg.Engine)
	registerQualityTests(group, cfg.Engine)
	registerBatchActions(group, cfg.Engine)
	registerAssets(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine rejections onto the HTTP error envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var re *engine.Error
	if errors.As(err, &re) {
		var details map[string]any
		if re.ID != "" {
			details = map[string]any{"id": re.ID}
		}
		return newAPIError(statusForKind(re.Kind), string(re.Kind), re.Error(), details)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func statusForKind(kind engine.Kind) int {
	switch kind {
	case engine.KindAlreadyExists:
		return http.StatusConflict
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindUnauthenticated:
		return http.StatusUnauthorized
	case engine.KindNotOwner:
		return http.StatusForbidden
	case engine.KindMalformedInput:
		return http.StatusBadRequest
	case engine.KindSpeciesNotAllowed,
		engine.KindGeoFenceViolation,
		engine.KindSeasonalViolation,
		engine.KindInvalidState,
		engine.KindNotApproved:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "rule_violation"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTags(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "provision-tag",
		Method:        http.MethodPost,
		Path:          "/tags",
		Summary:       "Provision RFID tag",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ProvisionTagRequest `json:"body"`
	}) (*struct {
		Body domain.Tag `json:"body"`
	}, error) {
		if input.Body.TagUID == "" || input.Body.BatchID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "tagUID and batchID are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		provisioner := input.Body.ProvisionerID
		if provisioner == "" {
			provisioner = actorID
		}
		tag, err := e.ProvisionTag(ctx, input.Body.TagUID, input.Body.BatchID, provisioner, input.Body.MetaHash)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Tag `json:"body"`
		}{Body: tag}, nil
	})
}

func registerCollections(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-collection-event",
		Method:        http.MethodPost,
		Path:          "/collections",
		Summary:       "Record collection event",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CollectionRequest `json:"body"`
	}) (*struct {
		Body domain.CollectionEvent `json:"body"`
	}, error) {
		if input.Body.EventID == "" || input.Body.Species == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "eventID and species are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		collector := input.Body.CollectorID
		if collector == "" {
			collector = actorID
		}
		event, err := e.RecordCollectionEvent(ctx, engine.CollectionOptions{
			EventID:     input.Body.EventID,
			CollectorID: collector,
			Species:     input.Body.Species,
			Latitude:    input.Body.Latitude,
			Longitude:   input.Body.Longitude,
			BagIDs:      input.Body.BagIDs,
			MetaHash:    input.Body.MetaHash,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CollectionEvent `json:"body"`
		}{Body: event}, nil
	})
}

func registerTransports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-transport-batch",
		Method:        http.MethodPost,
		Path:          "/transports",
		Summary:       "Create transport batch",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body TransportRequest `json:"body"`
	}) (*struct {
		Body domain.Batch `json:"body"`
	}, error) {
		if input.Body.BatchID == "" || len(input.Body.BagIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "batchID and bagIDs are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		transporter := input.Body.TransporterID
		if transporter == "" {
			transporter = actorID
		}
		batch, err := e.CreateTransportBatch(ctx, engine.TransportOptions{
			BatchID:       input.Body.BatchID,
			BagIDs:        input.Body.BagIDs,
			TransporterID: transporter,
			TruckID:       input.Body.TruckID,
			MetaHash:      input.Body.MetaHash,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Batch `json:"body"`
		}{Body: batch}, nil
	})
}

func registerProcessing(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-processed-batch",
		Method:        http.MethodPost,
		Path:          "/processed-batches",
		Summary:       "Consume batches into a processed batch",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body ProcessRequest `json:"body"`
	}) (*struct {
		Body domain.Batch `json:"body"`
	}, error) {
		if input.Body.OutputBatchID == "" || len(input.Body.InputBatchIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "outputBatchID and inputBatchIDs are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		processor := input.Body.ProcessorID
		if processor == "" {
			processor = actorID
		}
		batch, err := e.CreateProcessedBatch(ctx, engine.ProcessOptions{
			InputBatchIDs: input.Body.InputBatchIDs,
			OutputBatchID: input.Body.OutputBatchID,
			ProcessorID:   processor,
			MetaHash:      input.Body.MetaHash,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Batch `json:"body"`
		}{Body: batch}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-processing-step",
		Method:        http.MethodPost,
		Path:          "/processing-steps",
		Summary:       "Record processing step",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body StepRequest `json:"body"`
	}) (*struct {
		Body domain.ProcessingStep `json:"body"`
	}, error) {
		if input.Body.StepID == "" || input.Body.BatchID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "stepID and batchID are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		operator := input.Body.OperatorID
		if operator == "" {
			operator = actorID
		}
		step, err := e.RecordProcessingStep(ctx, engine.StepOptions{
			StepID:     input.Body.StepID,
			BatchID:    input.Body.BatchID,
			Operation:  input.Body.Operation,
			Parameters: input.Body.Parameters,
			OperatorID: operator,
			MetaHash:   input.Body.MetaHash,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProcessingStep `json:"body"`
		}{Body: step}, nil
	})
}

func registerQualityTests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-quality-test",
		Method:        http.MethodPost,
		Path:          "/quality-tests",
		Summary:       "Record quality test",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body QualityTestRequest `json:"body"`
	}) (*struct {
		Body domain.QualityTest `json:"body"`
	}, error) {
		if input.Body.TestID == "" || input.Body.BatchID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "testID and batchID are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		lab := input.Body.LabID
		if lab == "" {
			lab = actorID
		}
		test, err := e.RecordQualityTest(ctx, engine.QualityTestOptions{
			TestID:      input.Body.TestID,
			BatchID:     input.Body.BatchID,
			LabID:       lab,
			TestResults: input.Body.TestResults,
			MetaHash:    input.Body.MetaHash,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QualityTest `json:"body"`
		}{Body: test}, nil
	})
}

func registerBatchActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "generate-smart-label",
		Method:        http.MethodPost,
		Path:          "/batches/{id}/label",
		Summary:       "Generate smart label",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body LabelRequest `json:"body"`
	}) (*struct {
		Body domain.SmartLabel `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		label, err := e.GenerateSmartLabel(ctx, input.ID, input.Body.LabelMeta, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SmartLabel `json:"body"`
		}{Body: label}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transfer-batch",
		Method:      http.MethodPost,
		Path:        "/batches/{id}/transfer",
		Summary:     "Transfer batch ownership",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body TransferRequest `json:"body"`
	}) (*struct {
		Body domain.Batch `json:"body"`
	}, error) {
		if input.Body.To == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		from := input.Body.From
		if from == "" {
			from = actorID
		}
		batch, err := e.TransferBatch(ctx, input.ID, from, input.Body.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Batch `json:"body"`
		}{Body: batch}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "quarantine-batch",
		Method:      http.MethodPost,
		Path:        "/batches/{id}/quarantine",
		Summary:     "Quarantine batch",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body QuarantineRequest `json:"body"`
	}) (*struct {
		Body domain.Batch `json:"body"`
	}, error) {
		if input.Body.Reason == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reason is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		batch, err := e.FlagQuarantine(ctx, input.ID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Batch `json:"body"`
		}{Body: batch}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "trigger-recall",
		Method:        http.MethodPost,
		Path:          "/batches/{id}/recall",
		Summary:       "Trigger recall",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body RecallRequest `json:"body"`
	}) (*struct {
		Body domain.Recall `json:"body"`
	}, error) {
		if input.Body.Reason == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reason is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		recall, err := e.TriggerRecall(ctx, input.ID, input.Body.Reason, input.Body.RecallMeta, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Recall `json:"body"`
		}{Body: recall}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "batch-lineage",
		Method:      http.MethodGet,
		Path:        "/batches/{id}/lineage",
		Summary:     "Batch lineage tree",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body LineageResponse `json:"body"`
	}, error) {
		node, err := e.QueryLineage(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LineageResponse `json:"body"`
		}{Body: LineageResponse{Lineage: node}}, nil
	})
}

func registerAssets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-asset",
		Method:      http.MethodGet,
		Path:        "/assets/{id}",
		Summary:     "Get asset",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AssetResponse `json:"body"`
	}, error) {
		rec, err := e.QueryAsset(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssetResponse `json:"body"`
		}{Body: assetResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assets",
		Method:      http.MethodGet,
		Path:        "/assets",
		Summary:     "List assets by type",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type string `query:"type"`
	}) (*struct {
		Body []AssetResponse `json:"body"`
	}, error) {
		if input.Type == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "type is required", nil)
		}
		recs, err := e.QueryAssetsByType(ctx, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AssetResponse `json:"body"`
		}{Body: mapAssets(recs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "allowed-species",
		Method:      http.MethodGet,
		Path:        "/species",
		Summary:     "List allowed species",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []string `json:"body"`
	}, error) {
		species, err := e.AllowedSpecies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: species}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Name      string `query:"name"`
		RecordKey string `query:"record_key"`
		Limit     int    `query:"limit" default:"20"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		events, err := e.Store.LatestEvents(ctx, input.Limit, input.Name, input.RecordKey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(events)}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		key, rec, err := mintAPIKey(ctx, e, input.Body.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        rec.ID,
			ActorID:   rec.ActorID,
			Name:      rec.Name,
			Key:       key,
			CreatedAt: rec.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		keys, err := e.Store.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})
}

// mintAPIKey generates a fresh secret and stores only its hash.
func mintAPIKey(ctx context.Context, e engine.Engine, actorID, name string) (string, domain.APIKey, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", domain.APIKey{}, err
	}
	secret := "hbk_" + hex.EncodeToString(raw)
	rec := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   ledger.HashAPIKey(secret),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := e.Store.InsertAPIKey(ctx, rec); err != nil {
		return "", domain.APIKey{}, err
	}
	return secret, rec, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>HerbLedger API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
