package server

import (
	"bytes"
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

	"proofday/internal/engine"
	"proofday/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the flat {"error": "..."} envelope every failure uses.
type apiError struct {
	status  int
	Message string `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// New returns an HTTP handler exposing the Proofday API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are client-input errors.
			status = http.StatusBadRequest
		}
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(cfg.Auth))
	hcfg := huma.DefaultConfig("Proofday API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerUsers(group, cfg.Engine, cfg.Auth)
	registerGoals(group, cfg.Engine, cfg.Auth)
	registerProfile(group, cfg.Engine)
	registerFeed(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, message string) huma.StatusError {
	return &apiError{status: status, Message: message}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ie engine.InputError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusBadRequest, err.Error())
	}
	var pe engine.PreconditionError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadRequest, err.Error())
	}
	var ce engine.CollaboratorError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusBadGateway, err.Error())
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "goal not found")
	}
	return newAPIError(http.StatusInternalServerError, err.Error())
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func requestFromContext(ctx context.Context) *http.Request {
	r, _ := ctx.Value(requestKey{}).(*http.Request)
	return r
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

func registerUsers(api huma.API, e engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "ensure-user",
		Method:      http.MethodPost,
		Path:        "/user/ensure",
		Summary:     "Resolve or create the identity for an address",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body EnsureUserRequest `json:"body"`
	}) (*struct {
		Body EnsureUserEnvelope `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "body required")
		}
		u, err := e.EnsureUser(ctx, input.Body.Address, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		out := EnsureUserEnvelope{User: u}
		if auth.Enabled() {
			token, err := issueToken(auth, u.Address)
			if err != nil {
				return nil, handleError(err)
			}
			out.Token = token
		}
		return &struct {
			Body EnsureUserEnvelope `json:"body"`
		}{Body: out}, nil
	})
}

func registerGoals(api huma.API, e engine.Engine, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "create-goal",
		Method:      http.MethodPost,
		Path:        "/goal",
		Summary:     "Create a goal",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateGoalRequest `json:"body"`
	}) (*struct {
		Body GoalEnvelope `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "body required")
		}
		if authErr := requireAddress(ctx, auth, input.Body.Address); authErr != nil {
			return nil, authErr
		}
		g, err := e.CreateGoal(ctx, engine.GoalCreateOptions{
			Address:  input.Body.Address,
			Title:    input.Body.Title,
			Scope:    input.Body.Scope,
			Deadline: input.Body.Deadline,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalEnvelope `json:"body"`
		}{Body: GoalEnvelope{Goal: g}}, nil
	})

	// One path, two read queries: ?address= lists a user's goals,
	// ?discover= searches users. A present-but-empty discover is a valid
	// empty search, distinct from the parameter being absent.
	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goal",
		Summary:     "List goals by address or discover users",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Address  string `query:"address"`
		Discover string `query:"discover"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if input.Address != "" {
			goals, err := e.GoalsByAddress(ctx, input.Address)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body map[string]any `json:"body"`
			}{Body: map[string]any{"goals": goals}}, nil
		}
		hasDiscover := false
		if r := requestFromContext(ctx); r != nil {
			hasDiscover = r.URL.Query().Has("discover")
		}
		if hasDiscover {
			users, err := e.Discover(ctx, input.Discover)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body map[string]any `json:"body"`
			}{Body: map[string]any{"users": users}}, nil
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"ok": true}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-questions",
		Method:      http.MethodPost,
		Path:        "/goal/questions",
		Summary:     "Generate the quick-check questions for a goal",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body GenerateQuestionsRequest `json:"body"`
	}) (*struct {
		Body QuestionsEnvelope `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "body required")
		}
		if authErr := requireGoalOwner(ctx, e, auth, input.Body.GoalID); authErr != nil {
			return nil, authErr
		}
		q, err := e.GenerateQuestions(ctx, input.Body.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestionsEnvelope `json:"body"`
		}{Body: QuestionsEnvelope{Questions: q}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-goal",
		Method:      http.MethodPost,
		Path:        "/goal/evaluate",
		Summary:     "Judge the submitted answers and settle the goal",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body EvaluateRequest `json:"body"`
	}) (*struct {
		Body EvaluateEnvelope `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "body required")
		}
		if authErr := requireGoalOwner(ctx, e, auth, input.Body.GoalID); authErr != nil {
			return nil, authErr
		}
		res, err := e.Evaluate(ctx, input.Body.GoalID, input.Body.A1, input.Body.A2)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EvaluateEnvelope `json:"body"`
		}{Body: EvaluateEnvelope{OK: true, Goal: res.Goal, TxURL: res.TxURL}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attest-goal",
		Method:      http.MethodPost,
		Path:        "/goal/attest",
		Summary:     "Retry the attestation write for a PASSED goal",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body AttestRequest `json:"body"`
	}) (*struct {
		Body GoalEnvelope `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "body required")
		}
		if authErr := requireGoalOwner(ctx, e, auth, input.Body.GoalID); authErr != nil {
			return nil, authErr
		}
		res, err := e.RetryAttestation(ctx, input.Body.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalEnvelope `json:"body"`
		}{Body: GoalEnvelope{Goal: res.Goal}}, nil
	})
}

// requireGoalOwner resolves a goal's owner and checks the session against
// it. Goal existence errors are left for the operation itself so auth-off
// behavior is unchanged.
func requireGoalOwner(ctx context.Context, e engine.Engine, auth AuthConfig, goalID string) huma.StatusError {
	if !auth.Enabled() || goalID == "" {
		return nil
	}
	g, err := e.Repo.GetGoal(ctx, goalID)
	if err != nil {
		return nil
	}
	owner, err := e.Repo.GetUser(ctx, g.UserID)
	if err != nil {
		return nil
	}
	return requireAddress(ctx, auth, owner.Address)
}

func registerProfile(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "public-profile",
		Method:      http.MethodGet,
		Path:        "/profile/{address}",
		Summary:     "Public profile with pass stats and streaks",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body ProfileEnvelope `json:"body"`
	}, error) {
		u, goals, stats, err := e.Profile(ctx, input.Address)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "user not found")
			}
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileEnvelope `json:"body"`
		}{Body: ProfileEnvelope{User: u, Goals: goals, Stats: stats}}, nil
	})
}

func registerFeed(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "social-feed",
		Method:      http.MethodGet,
		Path:        "/feed",
		Summary:     "Most recent goals across all users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body FeedEnvelope `json:"body"`
	}, error) {
		goals, err := e.Feed(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FeedEnvelope `json:"body"`
		}{Body: FeedEnvelope{Goals: goals}}, nil
	})
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
    <title>Proofday API Docs</title>
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
