package domain

// HackerRole tags the one specialization an Applicant carries today.
const HackerRole = "hacker"

// Applicant is the registration record. Profile values are nullable
// strings; nil means the field was never set or was cleared.
type Applicant struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	ExternalID *string `json:"external_id,omitempty"`
	Role       string  `json:"role"`

	StatusCode string  `json:"status_code"`
	CanEdit    bool    `json:"can_edit"`
	CheckedIn  bool    `json:"checked_in"`
	Notes      *string `json:"notes,omitempty"`

	// Partner-supplied identity and profile.
	FirstName           *string `json:"first_name,omitempty"`
	LastName            *string `json:"last_name,omitempty"`
	Gender              *string `json:"gender,omitempty"`
	Graduation          *string `json:"graduation,omitempty"`
	Major               *string `json:"major,omitempty"`
	PhoneNumber         *string `json:"phone_number,omitempty"`
	SchoolName          *string `json:"school_name,omitempty"`
	DateOfBirth         *string `json:"date_of_birth,omitempty"`
	ShirtSize           *string `json:"shirt_size,omitempty"`
	SpecialNeeds        *string `json:"special_needs,omitempty"`
	DietaryRestrictions *string `json:"dietary_restrictions,omitempty"`
	PartnerCreatedAt    *string `json:"partner_created_at,omitempty"`
	PartnerUpdatedAt    *string `json:"partner_updated_at,omitempty"`

	// Self-service profile.
	WhatToLearn *string `json:"what_to_learn,omitempty"`
	Background  *string `json:"background,omitempty"`
	Github      *string `json:"github,omitempty"`
	Website     *string `json:"website,omitempty"`
	MacAddress  *string `json:"mac_address,omitempty"`
	TeamName    *string `json:"team_name,omitempty"`

	AppliedAt string `json:"applied_at" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// LastUpdatedAt is nil until the first successful self-service update.
	LastUpdatedAt *string `json:"last_updated_at,omitempty" format:"date-time"`
}

// IsNew reports whether the applicant has ever saved their form.
func (a *Applicant) IsNew() bool { return a.LastUpdatedAt == nil }

// HasRole reports whether the applicant carries the given role tag.
func (a *Applicant) HasRole(role string) bool { return a.Role == role }

// fieldSlot maps a form field id to its storage slot. This is the one
// place a payload key meets the record; keys outside the switch cannot be
// assigned, which keeps the allow-lists enforceable at compile time.
func (a *Applicant) fieldSlot(id string) **string {
	switch id {
	case "first_name":
		return &a.FirstName
	case "last_name":
		return &a.LastName
	case "gender":
		return &a.Gender
	case "graduation":
		return &a.Graduation
	case "major":
		return &a.Major
	case "phone_number":
		return &a.PhoneNumber
	case "school_name":
		return &a.SchoolName
	case "date_of_birth":
		return &a.DateOfBirth
	case "shirt_size":
		return &a.ShirtSize
	case "special_needs":
		return &a.SpecialNeeds
	case "dietary_restrictions":
		return &a.DietaryRestrictions
	case "partner_created_at":
		return &a.PartnerCreatedAt
	case "partner_updated_at":
		return &a.PartnerUpdatedAt
	case "what_to_learn":
		return &a.WhatToLearn
	case "background":
		return &a.Background
	case "github":
		return &a.Github
	case "website":
		return &a.Website
	case "mac_address":
		return &a.MacAddress
	case "team_name":
		return &a.TeamName
	case "notes":
		return &a.Notes
	default:
		return nil
	}
}

// Field reads a profile field by form id; ok is false for unknown ids.
func (a *Applicant) Field(id string) (value *string, ok bool) {
	if id == "email" {
		v := a.Email
		return &v, true
	}
	if id == "external_id" {
		return a.ExternalID, true
	}
	slot := a.fieldSlot(id)
	if slot == nil {
		return nil, false
	}
	return *slot, true
}

// SetField assigns a profile field by form id. Unknown ids are reported,
// not assigned.
func (a *Applicant) SetField(id string, value *string) bool {
	switch id {
	case "email":
		if value != nil {
			a.Email = *value
		}
		return true
	case "external_id":
		a.ExternalID = value
		return true
	}
	slot := a.fieldSlot(id)
	if slot == nil {
		return false
	}
	*slot = value
	return true
}

// SetSystemField assigns the admin-only record controls. Returns false
// for keys that are not system fields.
func (a *Applicant) SetSystemField(id, value string) bool {
	switch id {
	case "status_code":
		a.StatusCode = value
	case "can_edit":
		a.CanEdit = value == "true" || value == "1"
	case "checked_in":
		a.CheckedIn = value == "true" || value == "1"
	case "role":
		a.Role = value
	default:
		return false
	}
	return true
}

// DisplayField is one rendered row of a filled form.
type DisplayField struct {
	ID           string `json:"id"`
	FriendlyName string `json:"friendly_name"`
	HelpText     string `json:"help_text,omitempty"`
	FormType     string `json:"form_type"`
	Value        string `json:"value"`
	Editable     bool   `json:"editable"`
	Always       bool   `json:"always"`
}

// Event is one row of the append-only change log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
