package store

import "time"

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type ConsentStatus string

const (
	ConsentPending   ConsentStatus = "pending"
	ConsentCompleted ConsentStatus = "completed"
	ConsentDeclined  ConsentStatus = "declined"
)

// SharedModel is a generated mesh shared to the gallery.
type SharedModel struct {
	ID          string     `json:"id" firestore:"-" bson:"_id"`
	Name        string     `json:"name" firestore:"name" bson:"name"`
	Description string     `json:"description" firestore:"description" bson:"description"`
	OwnerID     string     `json:"ownerId" firestore:"ownerId" bson:"ownerId"`
	OwnerName   string     `json:"ownerName" firestore:"ownerName" bson:"ownerName"`
	Visibility  Visibility `json:"visibility" firestore:"visibility" bson:"visibility"`
	ModelURL    string     `json:"modelUrl" firestore:"modelUrl" bson:"modelUrl"`
	Tags        []string   `json:"tags" firestore:"tags" bson:"tags"`
	CreatedAt   time.Time  `json:"createdAt" firestore:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt" firestore:"updatedAt" bson:"updatedAt"`
}

// ModelUpdate is a partial update; nil fields are left untouched.
type ModelUpdate struct {
	Name        *string
	Description *string
	Visibility  *Visibility
	Tags        *[]string
}

// Apply copies the set fields onto m.
func (u ModelUpdate) Apply(m *SharedModel) {
	if u.Name != nil {
		m.Name = *u.Name
	}
	if u.Description != nil {
		m.Description = *u.Description
	}
	if u.Visibility != nil {
		m.Visibility = *u.Visibility
	}
	if u.Tags != nil {
		m.Tags = *u.Tags
	}
}

func (u ModelUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.Visibility == nil && u.Tags == nil
}

type UserProfile struct {
	UID           string        `json:"uid" firestore:"-" bson:"_id"`
	DisplayName   string        `json:"displayName" firestore:"displayName" bson:"displayName"`
	Email         string        `json:"email" firestore:"email" bson:"email"`
	Bio           string        `json:"bio,omitempty" firestore:"bio,omitempty" bson:"bio,omitempty"`
	Institution   string        `json:"institution,omitempty" firestore:"institution,omitempty" bson:"institution,omitempty"`
	Role          string        `json:"role,omitempty" firestore:"role,omitempty" bson:"role,omitempty"`
	ConsentStatus ConsentStatus `json:"consentStatus" firestore:"consentStatus" bson:"consentStatus"`
	ConsentDate   *time.Time    `json:"consentDate,omitempty" firestore:"consentDate,omitempty" bson:"consentDate,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt" firestore:"updatedAt" bson:"updatedAt"`
}

// ConsentForm records a user's research participation consent. It is keyed by
// the user id.
type ConsentForm struct {
	UserID      string        `json:"userId" firestore:"userId" bson:"_id"`
	Email       string        `json:"email" firestore:"email" bson:"email"`
	DisplayName string        `json:"displayName" firestore:"displayName" bson:"displayName"`
	Status      ConsentStatus `json:"status" firestore:"status" bson:"status"`
	ConsentDate *time.Time    `json:"consentDate,omitempty" firestore:"consentDate,omitempty" bson:"consentDate,omitempty"`
	SurveyLink  string        `json:"surveyLink,omitempty" firestore:"surveyLink,omitempty" bson:"surveyLink,omitempty"`
	CreatedAt   time.Time     `json:"createdAt" firestore:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt" firestore:"updatedAt" bson:"updatedAt"`
}
