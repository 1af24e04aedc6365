package types

// IstEvent is one persisted Intent-Skill-Trajectory extraction for a student utterance.
type IstEvent struct {
	ID            string   `json:"id"`
	CreatedAt     string   `json:"createdAt"`
	UserID        *string  `json:"userId"`
	CourseID      *string  `json:"courseId"`
	Utterance     string   `json:"utterance"`
	CourseContext *string  `json:"courseContext"`
	Intent        string   `json:"intent"`
	Skills        []string `json:"skills"`
	Trajectory    []string `json:"trajectory"`
}

// CreateIstEventInput omits the generated fields (id, createdAt).
type CreateIstEventInput struct {
	UserID        *string  `json:"userId"`
	CourseID      *string  `json:"courseId"`
	Utterance     string   `json:"utterance" validate:"required"`
	CourseContext *string  `json:"courseContext"`
	Intent        string   `json:"intent"`
	Skills        []string `json:"skills"`
	Trajectory    []string `json:"trajectory"`
}

// ISTResult is what the extraction service returns for one utterance.
type ISTResult struct {
	Intent     string   `json:"intent"`
	Skills     []string `json:"skills"`
	Trajectory []string `json:"trajectory"`
}

type ChatMessageRole string

const (
	RoleStudent ChatMessageRole = "student"
	RoleTutor   ChatMessageRole = "tutor"
	RoleSystem  ChatMessageRole = "system"
)

type ChatMessage struct {
	ID        string          `json:"id,omitempty"`
	Role      ChatMessageRole `json:"role" validate:"required,oneof=student tutor system"`
	Content   string          `json:"content"`
	CreatedAt string          `json:"createdAt,omitempty"`
}

type StudentProfile struct {
	StrongSkills   []string `json:"strongSkills"`
	WeakSkills     []string `json:"weakSkills"`
	CourseProgress *string  `json:"courseProgress,omitempty"`
}

// StrPtr returns nil for the empty string.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StrVal dereferences p, returning "" for nil.
func StrVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
