// Package api defines the notesync.v1 wire contract: request/response messages, the JSON
// codec they travel with, the gRPC service descriptor and a typed client stub.
package api

import "time"

// Envelope is one encrypted field on the wire.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// User is the wire form of a mirror account.
type User struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"externalId"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"displayName,omitempty"`
	AvatarURL   *string   `json:"avatarUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Record is the wire form of an encrypted tag or note.
type Record struct {
	ID        string              `json:"id"`
	UserID    string              `json:"userId"`
	Kind      string              `json:"kind"`
	Fields    map[string]Envelope `json:"fields,omitempty"`
	Date      string              `json:"date,omitempty"`
	TagIDs    []string            `json:"tagIds,omitempty"`
	Deleted   bool                `json:"deleted,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

type EnsureUserRequest struct {
	ExternalID  string  `json:"externalId"`
	Email       string  `json:"email"`
	DisplayName *string `json:"displayName,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

type EnsureUserResponse struct {
	UserID string `json:"userId"`
}

type LookupUserRequest struct {
	ExternalID string `json:"externalId"`
}

// LookupUserResponse carries a nil User when the identity is unknown.
type LookupUserResponse struct {
	User *User `json:"user,omitempty"`
}

type ListRecordsRequest struct {
	Kind   string `json:"kind"`
	UserID string `json:"userId"`
}

type ListRecordsResponse struct {
	Records []Record `json:"records"`
}

type CreateRecordRequest struct {
	Record Record `json:"record"`
}

type CreateRecordResponse struct {
	ID string `json:"id"`
}

// UpdateRecordRequest is a partial update. Absent members keep stored values.
type UpdateRecordRequest struct {
	Kind      string              `json:"kind"`
	ID        string              `json:"id"`
	Fields    map[string]Envelope `json:"fields,omitempty"`
	Date      *string             `json:"date,omitempty"`
	TagIDs    *[]string           `json:"tagIds,omitempty"`
	Deleted   *bool               `json:"deleted,omitempty"`
	UpdatedAt *time.Time          `json:"updatedAt,omitempty"`
}

type UpdateRecordResponse struct {
	Record Record `json:"record"`
}

type DeleteRecordRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type DeleteRecordResponse struct{}

type ExportUsersRequest struct{}

type ExportUsersResponse struct {
	Users []User `json:"users"`
}
