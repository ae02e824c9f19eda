package server

import (
	"taskquest/internal/domain"
	"taskquest/internal/engine"
	"taskquest/internal/suggest"
)

// Request payloads

type CreateProfileRequest struct {
	Nickname string `json:"nickname" maxLength:"64" example:"Ali"`
}

type TaskRequest struct {
	Title       string `json:"title" maxLength:"200"`
	Description string `json:"description,omitempty" maxLength:"2000"`
}

type CreateChallengeRequest struct {
	Title       string        `json:"title" maxLength:"200"`
	Description string        `json:"description,omitempty" maxLength:"2000"`
	Tasks       []TaskRequest `json:"tasks,omitempty" maxItems:"50"`
}

type SuggestChallengeRequest struct {
	Text string `json:"text" maxLength:"2000" example:"I want to drink more water"`
	// Create persists the draft as a new challenge.
	Create bool `json:"create,omitempty"`
}

type AttachProofRequest struct {
	StorageHandle string `json:"storage_handle" maxLength:"512"`
	Filename      string `json:"filename" maxLength:"255"`
	Description   string `json:"description,omitempty" maxLength:"2000"`
	MimeType      string `json:"mime_type,omitempty" maxLength:"127"`
	Size          int64  `json:"size,omitempty" minimum:"0"`
}

type PurchaseRequest struct {
	// ImageRef selects a store item; null or absent clears the selection.
	ImageRef *string `json:"image_ref,omitempty" example:"/chapmanBG.png"`
}

type DevLoginRequest struct {
	IdentityID string `json:"identity_id" example:"alice"`
}

// Response payloads

type ProfileEnvelope struct {
	Profile *domain.Profile `json:"profile"`
}

type ChallengeResponse struct {
	Challenge domain.Challenge `json:"challenge"`
	Tasks     []domain.Task    `json:"tasks"`
}

type SuggestChallengeResponse struct {
	Draft   suggest.Draft      `json:"draft"`
	Created *ChallengeResponse `json:"created,omitempty"`
}

type CatalogInitResponse struct {
	Added int `json:"added"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func challengeResponse(c engine.ChallengeWithTasks) ChallengeResponse {
	tasks := c.Tasks
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return ChallengeResponse{Challenge: c.Challenge, Tasks: tasks}
}

func challengeInput(req CreateChallengeRequest) engine.ChallengeInput {
	in := engine.ChallengeInput{Title: req.Title, Description: req.Description}
	for _, t := range req.Tasks {
		in.Tasks = append(in.Tasks, engine.TaskInput{Title: t.Title, Description: t.Description})
	}
	return in
}
