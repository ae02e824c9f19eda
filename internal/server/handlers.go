package server

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"taskquest/internal/domain"
	"taskquest/internal/engine"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
}

func registerProfiles(api huma.API, e engine.Engine, log *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-profile",
		Method:        http.MethodPost,
		Path:          "/profiles",
		Summary:       "Create the caller's profile",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProfileRequest `json:"body"`
	}) (*struct {
		Body domain.Profile `json:"body"`
	}, error) {
		p, err := e.CreateProfile(ctx, input.Body.Nickname)
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body domain.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/profiles/me",
		Summary:     "Get the caller's profile; null when none exists",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProfileEnvelope `json:"body"`
	}, error) {
		p, err := e.GetProfile(ctx)
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body ProfileEnvelope `json:"body"`
		}{Body: ProfileEnvelope{Profile: p}}, nil
	})
}

func registerChallenges(api huma.API, e engine.Engine, log *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "list-challenges",
		Method:      http.MethodGet,
		Path:        "/challenges",
		Summary:     "List challenges, newest first",
		Tags:        []string{"public"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Challenge `json:"body"`
	}, error) {
		items, err := e.ListChallenges(ctx)
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body []domain.Challenge `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-challenges",
		Method:      http.MethodGet,
		Path:        "/challenges/search",
		Summary:     "Search challenge titles",
		Tags:        []string{"public"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Q     string `query:"q" maxLength:"200"`
		Limit int    `query:"limit" minimum:"0" maximum:"100"`
	}) (*struct {
		Body []domain.Challenge `json:"body"`
	}, error) {
		items, err := e.SearchChallenges(ctx, input.Q, input.Limit)
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body []domain.Challenge `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-challenge",
		Method:        http.MethodPost,
		Path:          "/challenges",
		Summary:       "Create a challenge with optional initial tasks",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateChallengeRequest `json:"body"`
	}) (*struct {
		Body ChallengeResponse `json:"body"`
	}, error) {
		c, err := e.CreateChallenge(ctx, challengeInput(input.Body))
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body ChallengeResponse `json:"body"`
		}{Body: challengeResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggest-challenge",
		Method:      http.MethodPost,
		Path:        "/challenges/suggest",
		Summary:     "Generate a challenge draft from free text",
		Errors:      append([]int{http.StatusBadGateway, http.StatusServiceUnavailable}, mutationErrors...),
	}, func(ctx context.Context, input *struct {
		Body SuggestChallengeRequest `json:"body"`
	}) (*struct {
		Body SuggestChallengeResponse `json:"body"`
	}, error) {
		draft, err := e.SuggestChallenge(ctx, input.Body.Text)
		if err != nil {
			return nil, handleError(log, err)
		}
		out := SuggestChallengeResponse{Draft: draft}
		if input.Body.Create {
			c, err := e.CreateChallengeFromDraft(ctx, draft)
			if err != nil {
				return nil, handleError(log, err)
			}
			resp := challengeResponse(c)
			out.Created = &resp
		}
		return &struct {
			Body SuggestChallengeResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/challenges/{id}/tasks",
		Summary:       "Add a task to an active challenge",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body TaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.CreateTask(ctx, input.ID, engine.TaskInput{Title: input.Body.Title, Description: input.Body.Description})
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-challenge-tasks",
		Method:      http.MethodGet,
		Path:        "/challenges/{id}/tasks",
		Summary:     "List a challenge's tasks with completion and proof",
		Tags:        []string{"public"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.TaskView `json:"body"`
	}, error) {
		views, err := e.TasksWithCompletion(ctx, input.ID)
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body []domain.TaskView `json:"body"`
		}{Body: views}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine, log *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete a task and earn currency",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.CompletionResult `json:"body"`
	}, error) {
		res, err := e.CompleteTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body engine.CompletionResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerProofs(api huma.API, e engine.Engine, log *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID:   "upload-proof",
		Method:        http.MethodPost,
		Path:          "/uploads",
		Summary:       "Upload proof image bytes",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  maxBodyBytes,
		Errors:        append([]int{http.StatusServiceUnavailable}, mutationErrors...),
	}, func(ctx context.Context, input *struct {
		ContentType string `header:"Content-Type"`
		Filename    string `query:"filename" maxLength:"255"`
		RawBody     []byte
	}) (*struct {
		Body engine.Upload `json:"body"`
	}, error) {
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		name := strings.TrimSpace(input.Filename)
		if name == "" {
			name = "proof"
		}
		up, err := e.UploadProof(ctx, name, input.ContentType, bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body engine.Upload `json:"body"`
		}{Body: up}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-proof",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/proof",
		Summary:       "Attach an uploaded proof image to a task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body AttachProofRequest `json:"body"`
	}) (*struct {
		Body domain.ProofImage `json:"body"`
	}, error) {
		img, err := e.AttachProofImage(ctx, engine.ProofInput{
			TaskID:        input.ID,
			StorageHandle: input.Body.StorageHandle,
			Filename:      input.Body.Filename,
			Description:   input.Body.Description,
			MimeType:      input.Body.MimeType,
			Size:          input.Body.Size,
		})
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body domain.ProofImage `json:"body"`
		}{Body: img}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-image",
		Method:      http.MethodGet,
		Path:        "/images/{id}",
		Summary:     "Get proof image metadata and URL",
		Tags:        []string{"public"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ProofImage `json:"body"`
	}, error) {
		img, err := e.GetProofImage(ctx, input.ID)
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body domain.ProofImage `json:"body"`
		}{Body: img}, nil
	})
}

func registerStore(api huma.API, e engine.Engine, log *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "list-store-items",
		Method:      http.MethodGet,
		Path:        "/store/items",
		Summary:     "List store items",
		Tags:        []string{"public"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.StoreItem `json:"body"`
	}, error) {
		items, err := e.ListStoreItems(ctx)
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body []domain.StoreItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "purchase",
		Method:      http.MethodPost,
		Path:        "/store/purchase",
		Summary:     "Buy and select an item, re-select an owned one, or clear the selection",
		Errors:      append([]int{http.StatusPaymentRequired}, mutationErrors...),
	}, func(ctx context.Context, input *struct {
		Body PurchaseRequest `json:"body"`
	}) (*struct {
		Body engine.PurchaseResult `json:"body"`
	}, error) {
		res, err := e.Purchase(ctx, input.Body.ImageRef)
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body engine.PurchaseResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "init-store",
		Method:      http.MethodPost,
		Path:        "/store/init",
		Summary:     "Seed the canonical catalog items that are missing",
		Errors:      mutationErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CatalogInitResponse `json:"body"`
	}, error) {
		added, err := e.InitializeCatalog(ctx)
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body CatalogInitResponse `json:"body"`
		}{Body: CatalogInitResponse{Added: added}}, nil
	})
}

func registerLeaderboard(api huma.API, e engine.Engine, log *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "leaderboard",
		Method:      http.MethodGet,
		Path:        "/leaderboard",
		Summary:     "Top profiles by balance",
		Tags:        []string{"public"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"100" doc:"Defaults to 10"`
	}) (*struct {
		Body []domain.LeaderboardEntry `json:"body"`
	}, error) {
		entries, err := e.Leaderboard(ctx, input.Limit)
		if err != nil {
			return nil, handleError(log, err)
		}
		return &struct {
			Body []domain.LeaderboardEntry `json:"body"`
		}{Body: entries}, nil
	})
}
