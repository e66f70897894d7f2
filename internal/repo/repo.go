package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"hackreg/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const applicantColumns = `id,email,external_id,role,status_code,can_edit,checked_in,notes,
first_name,last_name,gender,graduation,major,phone_number,school_name,date_of_birth,shirt_size,
special_needs,dietary_restrictions,partner_created_at,partner_updated_at,
what_to_learn,background,github,website,mac_address,team_name,
applied_at,created_at,last_updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplicant(row rowScanner) (domain.Applicant, error) {
	var a domain.Applicant
	var externalID, notes sql.NullString
	var firstName, lastName, gender, graduation, major, phoneNumber, schoolName, dateOfBirth, shirtSize sql.NullString
	var specialNeeds, dietaryRestrictions, partnerCreatedAt, partnerUpdatedAt sql.NullString
	var whatToLearn, background, github, website, macAddress, teamName sql.NullString
	var lastUpdatedAt sql.NullString
	err := row.Scan(&a.ID, &a.Email, &externalID, &a.Role, &a.StatusCode, &a.CanEdit, &a.CheckedIn, &notes,
		&firstName, &lastName, &gender, &graduation, &major, &phoneNumber, &schoolName, &dateOfBirth, &shirtSize,
		&specialNeeds, &dietaryRestrictions, &partnerCreatedAt, &partnerUpdatedAt,
		&whatToLearn, &background, &github, &website, &macAddress, &teamName,
		&a.AppliedAt, &a.CreatedAt, &lastUpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.ExternalID = fromNull(externalID)
	a.Notes = fromNull(notes)
	a.FirstName = fromNull(firstName)
	a.LastName = fromNull(lastName)
	a.Gender = fromNull(gender)
	a.Graduation = fromNull(graduation)
	a.Major = fromNull(major)
	a.PhoneNumber = fromNull(phoneNumber)
	a.SchoolName = fromNull(schoolName)
	a.DateOfBirth = fromNull(dateOfBirth)
	a.ShirtSize = fromNull(shirtSize)
	a.SpecialNeeds = fromNull(specialNeeds)
	a.DietaryRestrictions = fromNull(dietaryRestrictions)
	a.PartnerCreatedAt = fromNull(partnerCreatedAt)
	a.PartnerUpdatedAt = fromNull(partnerUpdatedAt)
	a.WhatToLearn = fromNull(whatToLearn)
	a.Background = fromNull(background)
	a.Github = fromNull(github)
	a.Website = fromNull(website)
	a.MacAddress = fromNull(macAddress)
	a.TeamName = fromNull(teamName)
	a.LastUpdatedAt = fromNull(lastUpdatedAt)
	return a, nil
}

func (r Repo) getBy(ctx context.Context, column, value string) (domain.Applicant, error) {
	query := fmt.Sprintf(`SELECT %s FROM applicants WHERE %s=?`, applicantColumns, column)
	return scanApplicant(r.DB.QueryRowContext(ctx, query, value))
}

func (r Repo) GetApplicant(ctx context.Context, id string) (domain.Applicant, error) {
	return r.getBy(ctx, "id", id)
}

func (r Repo) GetApplicantByEmail(ctx context.Context, email string) (domain.Applicant, error) {
	return r.getBy(ctx, "email", email)
}

func (r Repo) GetApplicantByExternalID(ctx context.Context, externalID string) (domain.Applicant, error) {
	return r.getBy(ctx, "external_id", externalID)
}

func (r Repo) InsertApplicant(ctx context.Context, tx *sql.Tx, a domain.Applicant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO applicants(`+applicantColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Email, nullableStringPtr(a.ExternalID), a.Role, a.StatusCode, a.CanEdit, a.CheckedIn, nullableStringPtr(a.Notes),
		nullableStringPtr(a.FirstName), nullableStringPtr(a.LastName), nullableStringPtr(a.Gender), nullableStringPtr(a.Graduation),
		nullableStringPtr(a.Major), nullableStringPtr(a.PhoneNumber), nullableStringPtr(a.SchoolName), nullableStringPtr(a.DateOfBirth),
		nullableStringPtr(a.ShirtSize), nullableStringPtr(a.SpecialNeeds), nullableStringPtr(a.DietaryRestrictions),
		nullableStringPtr(a.PartnerCreatedAt), nullableStringPtr(a.PartnerUpdatedAt),
		nullableStringPtr(a.WhatToLearn), nullableStringPtr(a.Background), nullableStringPtr(a.Github),
		nullableStringPtr(a.Website), nullableStringPtr(a.MacAddress), nullableStringPtr(a.TeamName),
		a.AppliedAt, a.CreatedAt, nullableStringPtr(a.LastUpdatedAt))
	return err
}

// UpdateApplicant writes the full row; the caller owns the transaction.
func (r Repo) UpdateApplicant(ctx context.Context, tx *sql.Tx, a domain.Applicant) error {
	res, err := tx.ExecContext(ctx, `UPDATE applicants SET
email=?, external_id=?, role=?, status_code=?, can_edit=?, checked_in=?, notes=?,
first_name=?, last_name=?, gender=?, graduation=?, major=?, phone_number=?, school_name=?, date_of_birth=?, shirt_size=?,
special_needs=?, dietary_restrictions=?, partner_created_at=?, partner_updated_at=?,
what_to_learn=?, background=?, github=?, website=?, mac_address=?, team_name=?,
applied_at=?, last_updated_at=?
WHERE id=?`,
		a.Email, nullableStringPtr(a.ExternalID), a.Role, a.StatusCode, a.CanEdit, a.CheckedIn, nullableStringPtr(a.Notes),
		nullableStringPtr(a.FirstName), nullableStringPtr(a.LastName), nullableStringPtr(a.Gender), nullableStringPtr(a.Graduation),
		nullableStringPtr(a.Major), nullableStringPtr(a.PhoneNumber), nullableStringPtr(a.SchoolName), nullableStringPtr(a.DateOfBirth),
		nullableStringPtr(a.ShirtSize), nullableStringPtr(a.SpecialNeeds), nullableStringPtr(a.DietaryRestrictions),
		nullableStringPtr(a.PartnerCreatedAt), nullableStringPtr(a.PartnerUpdatedAt),
		nullableStringPtr(a.WhatToLearn), nullableStringPtr(a.Background), nullableStringPtr(a.Github),
		nullableStringPtr(a.Website), nullableStringPtr(a.MacAddress), nullableStringPtr(a.TeamName),
		a.AppliedAt, nullableStringPtr(a.LastUpdatedAt), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ApplicantFilters struct {
	Status          string
	CheckedIn       *bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListApplicants(ctx context.Context, f ApplicantFilters) ([]domain.Applicant, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status_code=?")
		args = append(args, f.Status)
	}
	if f.CheckedIn != nil {
		clauses = append(clauses, "checked_in=?")
		args = append(args, *f.CheckedIn)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + applicantColumns + ` FROM applicants ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Applicant
	for rows.Next() {
		a, err := scanApplicant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountApplicantsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status_code, count(*) FROM applicants GROUP BY status_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
