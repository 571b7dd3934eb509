package model

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// User is an account that owns threads and documents. The credential is an
// opaque hash written as supplied; verification and rotation happen outside
// this service.
type User struct {
	Username     string    `json:"username"  gorm:"primaryKey"`
	PasswordHash string    `json:"-"         gorm:"not null"`
	CreatedAt    time.Time `json:"createdAt" gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Thread is one independent conversation with its own knowledge namespace.
// Deleting a thread cascades to its messages, documents, segments, vectors,
// and raw files.
type Thread struct {
	ID        int64     `json:"id"        gorm:"primaryKey;autoIncrement"`
	Username  string    `json:"username"  gorm:"not null;index"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (Thread) TableName() string { return "threads" }

// Message is one chat turn. Append-only; ordered by the monotonic id.
type Message struct {
	ID        int64     `json:"id"        gorm:"primaryKey;autoIncrement"`
	ThreadID  int64     `json:"threadId"  gorm:"not null;index"`
	Username  string    `json:"username"  gorm:"not null"`
	Role      Role      `json:"role"      gorm:"not null"`
	Content   string    `json:"content"   gorm:"not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (Message) TableName() string { return "messages" }

// Document records one successful upload. ThreadID is nil for documents in
// the user's default (no-thread) namespace.
type Document struct {
	ID               int64     `json:"id"               gorm:"primaryKey;autoIncrement"`
	Username         string    `json:"username"         gorm:"not null;index"`
	Filename         string    `json:"filename"         gorm:"not null"`
	OriginalFilename string    `json:"originalFilename"`
	StoredAt         time.Time `json:"storedAt"         gorm:"not null"`
	SegmentCount     int       `json:"segmentCount"     gorm:"not null"`
	ThreadID         *int64    `json:"threadId"         gorm:"index"`
}

func (Document) TableName() string { return "documents" }

// DocumentSegment is one chunk of a document's extracted text. VectorID is a
// weak reference into the namespace's knowledge store: deleting the row does
// not delete the vector, the lifecycle coordinator does that explicitly.
type DocumentSegment struct {
	ID           int64  `json:"id"           gorm:"primaryKey;autoIncrement"`
	DocumentID   int64  `json:"documentId"   gorm:"not null;index"`
	SegmentIndex int    `json:"segmentIndex" gorm:"not null"`
	VectorID     string `json:"vectorId"     gorm:"not null"`
	Preview      string `json:"preview"`
}

func (DocumentSegment) TableName() string { return "document_segments" }

// PreviewLen is the number of leading characters of a segment kept as its
// relational preview.
const PreviewLen = 200
