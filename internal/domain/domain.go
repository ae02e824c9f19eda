package domain

const (
	ChallengeActive    = "active"
	ChallengeCompleted = "completed"

	TaskPending   = "pending"
	TaskCompleted = "completed"
)

// UnknownCompleter is shown when the completing identity never created a profile.
const UnknownCompleter = "Unknown User"

type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Profile struct {
	ID             string   `json:"id"`
	IdentityID     string   `json:"identity_id"`
	Nickname       string   `json:"nickname"`
	Balance        int64    `json:"balance"`
	SelectedItem   *string  `json:"selected_item,omitempty"`
	PurchasedItems []string `json:"purchased_items"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

// Owns reports whether imageRef is in the purchased set.
func (p Profile) Owns(imageRef string) bool {
	for _, ref := range p.PurchasedItems {
		if ref == imageRef {
			return true
		}
	}
	return false
}

type Challenge struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	CreatedBy   string  `json:"created_by"`
	Status      string  `json:"status" enum:"active,completed"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type Task struct {
	ID          string  `json:"id"`
	ChallengeID string  `json:"challenge_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"pending,completed"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// TaskView is a task enriched with who completed it and its proof image.
type TaskView struct {
	Task
	CompletedBy   string  `json:"completed_by,omitempty"`
	CompleterID   string  `json:"-"`
	ProofImageID  *string `json:"proof_image_id,omitempty"`
	ProofImageURL string  `json:"proof_image_url,omitempty"`
	ProofHandle   string  `json:"-"`
}

type TaskCompletion struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	IdentityID  string `json:"identity_id"`
	CompletedAt string `json:"completed_at" format:"date-time"`
}

type ProofImage struct {
	ID            string `json:"id"`
	TaskID        string `json:"task_id"`
	StorageHandle string `json:"storage_handle"`
	Filename      string `json:"filename"`
	Description   string `json:"description,omitempty"`
	MimeType      string `json:"mime_type"`
	Size          int64  `json:"size"`
	UploadedBy    string `json:"uploaded_by"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	URL           string `json:"url,omitempty"`
}

type StoreItem struct {
	ID          string `json:"id"`
	ImageRef    string `json:"image_ref"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Type        string `json:"type"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type LeaderboardEntry struct {
	Rank         int     `json:"rank"`
	ProfileID    string  `json:"profile_id"`
	Nickname     string  `json:"nickname"`
	Balance      int64   `json:"balance"`
	SelectedItem *string `json:"selected_item,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"key_hash"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}
