// Package domain defines the persistence models for archives and their
// uploaders, plus the value objects and error taxonomy shared by the service
// and transport layers. Persistence types are mapped with GORM.
package domain

import "time"

// Challenge archive kinds.
const (
	ChallengeKindLink = "link"
	ChallengeKindText = "text"
)

// Member is the uploader registry. Rows are inserted with conflict-ignored
// semantics, so the first display name seen for an ID is kept.
//
// Fields:
//   - ID: external chat-platform identity (stable).
//   - Name: best-effort human label.
type Member struct {
	ID        string    `json:"id"         gorm:"type:varchar(32);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Member.
func (Member) TableName() string { return "members" }

// VideoArchive is an archived video link. URL holds the normalized form and
// is unique across video archives.
type VideoArchive struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Title       string    `json:"title"       gorm:"type:varchar(512);not null"`
	Description string    `json:"description" gorm:"type:text;not null;default:''"`
	URL         string    `json:"url"         gorm:"type:varchar(2048);not null;uniqueIndex:ux_video_archives_url"`
	ImageURL    string    `json:"image_url"   gorm:"type:varchar(2048);not null;default:''"`
	MemberID    string    `json:"member_id"   gorm:"type:varchar(32);not null;index"`
	CreatedAt   time.Time `json:"created_at"  gorm:"index"`
	UpdatedAt   time.Time `json:"updated_at"`

	Member Member `json:"-" gorm:"foreignKey:MemberID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for VideoArchive.
func (VideoArchive) TableName() string { return "video_archives" }

// ChallengeArchive is an archived challenge submission. Link challenges carry
// a normalized URL; text challenges keep their content in Description and
// have a nil URL.
type ChallengeArchive struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Kind        string    `json:"kind"        gorm:"type:varchar(8);not null;check:kind IN ('link','text')"`
	Title       string    `json:"title"       gorm:"type:varchar(512);not null"`
	Description string    `json:"description" gorm:"type:text;not null;default:''"`
	URL         *string   `json:"url"         gorm:"type:varchar(2048);uniqueIndex:ux_challenge_archives_url"`
	MemberID    string    `json:"member_id"   gorm:"type:varchar(32);not null;index"`
	CreatedAt   time.Time `json:"created_at"  gorm:"index"`
	UpdatedAt   time.Time `json:"updated_at"`

	Member Member `json:"-" gorm:"foreignKey:MemberID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for ChallengeArchive.
func (ChallengeArchive) TableName() string { return "challenge_archives" }

// Uploader identifies the submitting user.
type Uploader struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
}

// OGP is the result of metadata resolution for a URL. It is never stored as
// is; fields are copied into an archive.
type OGP struct {
	Title       string
	Description string
	Image       string
}
