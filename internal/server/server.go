package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"hackreg/internal/domain"
	"hackreg/internal/engine"
	"hackreg/internal/forms"
	"hackreg/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"applicant not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

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

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "applicant not found", nil)
	}
	var ufe forms.UnknownFieldError
	if errors.As(err, &ufe) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ufe.ID})
	}
	msg := err.Error()
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

// New returns an HTTP handler exposing the registration API. It is a
// thin translation layer: each handler turns a request into one core
// call and its result back into a response.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	// Route huma's own errors through the same envelope as ours.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Hackreg API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerOpenAPI(router, api, basePath)
	registerHealth(group)
	registerStatuses(group, cfg.Engine)
	registerApplicants(group, cfg.Engine, cfg.Auth)
	registerPartner(group, cfg.Engine, cfg.Auth)
	registerEvents(group, cfg.Engine, cfg.Auth)

	return router, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, _ *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Hackreg API Docs</title>
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
  </body>
</html>`, specURL)
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

func registerStatuses(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/statuses",
		Summary:     "List registration statuses",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []forms.StatusEntry `json:"body"`
	}, error) {
		return &struct {
			Body []forms.StatusEntry `json:"body"`
		}{Body: e.Statuses.Entries()}, nil
	})
}

type applicantPath struct {
	ApplicantID string `path:"applicant_id"`
}

func registerApplicants(api huma.API, e *engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "list-applicants",
		Method:      http.MethodGet,
		Path:        "/applicants",
		Summary:     "List applicants",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.Applicant `json:"body"`
	}, error) {
		if err := requireRole(ctx, auth, "admin"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListApplicants(ctx, repo.ApplicantFilters{Status: input.Status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Applicant `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-applicant",
		Method:        http.MethodPost,
		Path:          "/applicants",
		Summary:       "Register an applicant",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateApplicantRequest
	}) (*struct {
		Body domain.Applicant `json:"body"`
	}, error) {
		a, err := e.CreateApplicant(ctx, input.Body.Email, actorID(ctx, "api"))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Applicant `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-applicant",
		Method:      http.MethodGet,
		Path:        "/applicants/{applicant_id}",
		Summary:     "Fetch an applicant",
	}, func(ctx context.Context, input *applicantPath) (*struct {
		Body domain.Applicant `json:"body"`
	}, error) {
		a, err := e.Repo.GetApplicant(ctx, input.ApplicantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Applicant `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-applicant-form",
		Method:      http.MethodGet,
		Path:        "/applicants/{applicant_id}/form",
		Summary:     "Render the self-service form",
	}, func(ctx context.Context, input *applicantPath) (*struct {
		Body ApplicantFormResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetApplicant(ctx, input.ApplicantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicantFormResponse `json:"body"`
		}{Body: ApplicantFormResponse{
			ApplicantID: a.ID,
			Status:      e.FriendlyStatus(&a),
			Fields:      e.FillDisplay(&a, e.SelfService),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-applicant",
		Method:      http.MethodPatch,
		Path:        "/applicants/{applicant_id}",
		Summary:     "Apply a self-service update",
		Description: "Validates the payload against the self-service schema and the applicant's current status; the whole payload is accepted or rejected as a unit.",
	}, func(ctx context.Context, input *struct {
		ApplicantID string `path:"applicant_id"`
		Body        UpdateApplicantRequest
	}) (*struct {
		Body VerdictResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetApplicant(ctx, input.ApplicantID)
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.ValidateAndUpdate(ctx, &a, input.Body.Fields, e.SelfService, actorID(ctx, "api"))
		if err != nil {
			// Hook failure after a successful commit.
			return nil, handleError(err)
		}
		return &struct {
			Body VerdictResponse `json:"body"`
		}{Body: toVerdictResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-update-applicant",
		Method:      http.MethodPost,
		Path:        "/applicants/{applicant_id}/admin",
		Summary:     "Apply an unchecked admin override",
	}, func(ctx context.Context, input *struct {
		ApplicantID string `path:"applicant_id"`
		Body        AdminUpdateRequest
	}) (*struct {
		Body VerdictResponse `json:"body"`
	}, error) {
		if err := requireRole(ctx, auth, "admin"); err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetApplicant(ctx, input.ApplicantID)
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.AdminUpdate(ctx, &a, input.Body.Fields, actorID(ctx, "admin"))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VerdictResponse `json:"body"`
		}{Body: toVerdictResponse(v)}, nil
	})
}

func registerPartner(api huma.API, e *engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "partner-sync-record",
		Method:      http.MethodPost,
		Path:        "/partner/records",
		Summary:     "Resolve or create from a partner record",
		Description: "Looks up by external id, then email; a found record is returned unchanged. Identity keys outside the partner allow-list are dropped.",
	}, func(ctx context.Context, input *struct {
		Body PartnerRecordRequest
	}) (*struct {
		Body domain.Applicant `json:"body"`
	}, error) {
		if err := requireRole(ctx, auth, "partner"); err != nil {
			if adminErr := requireRole(ctx, auth, "admin"); adminErr != nil {
				return nil, handleError(err)
			}
		}
		a, err := e.ResolveOrCreate(ctx, input.Body.Identity, actorID(ctx, "partner"))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Applicant `json:"body"`
		}{Body: a}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the change log",
	}, func(ctx context.Context, input *struct {
		N        int    `query:"n"`
		Type     string `query:"type"`
		EntityID string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if err := requireRole(ctx, auth, "admin"); err != nil {
			return nil, handleError(err)
		}
		n := input.N
		if n <= 0 {
			n = 20
		}
		evts, err := e.Repo.LatestEvents(ctx, n, input.Type, "applicant", input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}
