// Package catalog loads the local copies of curriculum units and users that
// session creation and roster display read from.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"cohortlive/pkg/types"
)

var (
	ErrMissingUnitID = errors.New("curriculum unit id is required")
	ErrInvalidUserID = errors.New("user id is invalid")
	ErrUnknownRole   = errors.New("unknown role")
)

// Writer stores catalog entries. database.Manager implements it.
type Writer interface {
	PutCurriculumUnit(ctx context.Context, unit *types.CurriculumUnit) error
	PutUser(ctx context.Context, user *types.User) error
}

// File is the JSON document accepted by Import.
type File struct {
	CurriculumUnits []types.CurriculumUnit `json:"curriculum_units"`
	Users           []types.User           `json:"users"`
}

// Result counts the entries written.
type Result struct {
	Units int
	Users int
}

// Validate rejects the whole file if any entry is malformed, so an import
// never stops half way through on bad input.
func (f *File) Validate() error {
	var errs []error
	for i, unit := range f.CurriculumUnits {
		if unit.ID == "" {
			errs = append(errs, fmt.Errorf("curriculum_units[%d]: %w", i, ErrMissingUnitID))
		}
	}
	for i, user := range f.Users {
		if !types.IsValidUserID(user.ID) {
			errs = append(errs, fmt.Errorf("users[%d] %q: %w", i, user.ID, ErrInvalidUserID))
		}
		switch user.Role {
		case "", types.RoleInstructor, types.RoleAdmin, types.RoleParticipant:
		default:
			errs = append(errs, fmt.Errorf("users[%d] %q: %w %q", i, user.ID, ErrUnknownRole, user.Role))
		}
	}
	return errors.Join(errs...)
}

// Import decodes a catalog document from r and writes every entry. Entries
// that already exist are updated in place.
func Import(ctx context.Context, w Writer, r io.Reader) (Result, error) {
	var f File
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return Result{}, fmt.Errorf("decode catalog: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	for i := range f.CurriculumUnits {
		unit := f.CurriculumUnits[i]
		if unit.Title == "" {
			unit.Title = unit.ID
		}
		if err := w.PutCurriculumUnit(ctx, &unit); err != nil {
			return res, fmt.Errorf("curriculum unit %s: %w", unit.ID, err)
		}
		res.Units++
	}
	for i := range f.Users {
		user := f.Users[i]
		if user.DisplayName == "" {
			user.DisplayName = user.ID
		}
		if err := w.PutUser(ctx, &user); err != nil {
			return res, fmt.Errorf("user %s: %w", user.ID, err)
		}
		res.Users++
	}

	log.Printf("catalog: imported %d curriculum units and %d users", res.Units, res.Users)
	return res, nil
}

// ImportFile runs Import on the file at path.
func ImportFile(ctx context.Context, w Writer, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()
	return Import(ctx, w, f)
}
