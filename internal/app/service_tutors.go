package app

import (
	"context"
	"strings"

	"peertutor/api/internal/rbac"
	"peertutor/api/internal/store"
)

// TutorView is a profile as the directory shows it, with the average derived
// from the stored totals.
type TutorView struct {
	store.TutorProfile
	AverageRating float64 `json:"averageRating"`
}

func tutorView(profile store.TutorProfile) TutorView {
	if profile.Subjects == nil {
		profile.Subjects = []string{}
	}
	return TutorView{TutorProfile: profile, AverageRating: profile.AverageRating()}
}

type UpdateProfileInput struct {
	Bio      string   `json:"bio" validate:"max=2000"`
	Subjects []string `json:"subjects" validate:"max=20,dive,max=80"`
	IsActive *bool    `json:"isActive"`
}

func (s *Service) ListTutors(ctx context.Context, subject string) ([]TutorView, error) {
	profiles, err := s.store.ListActiveTutors(ctx, strings.TrimSpace(subject))
	if err != nil {
		return nil, err
	}
	views := make([]TutorView, 0, len(profiles))
	for _, profile := range profiles {
		views = append(views, tutorView(profile))
	}
	return views, nil
}

func (s *Service) GetTutor(ctx context.Context, tutorID string) (TutorView, error) {
	profile, err := s.store.GetTutorProfile(ctx, tutorID)
	if err != nil {
		return TutorView{}, err
	}
	return tutorView(profile), nil
}

func (s *Service) ListTutorReviews(ctx context.Context, tutorID string) ([]store.Review, error) {
	if _, err := s.store.GetTutorProfile(ctx, tutorID); err != nil {
		return nil, err
	}
	return s.store.ListReviews(ctx, tutorID)
}

// UpdateMyProfile edits the principal's own tutor profile. Rating totals are
// never writable here.
func (s *Service) UpdateMyProfile(ctx context.Context, principal Principal, input UpdateProfileInput) (TutorView, error) {
	if !rbac.Can(rbac.Normalize(principal.Role), rbac.ActionProfileEdit) {
		return TutorView{}, errForbidden("Only tutors have a profile")
	}
	if err := s.validate(input); err != nil {
		return TutorView{}, err
	}
	current, err := s.store.GetTutorProfile(ctx, principal.ID)
	if err != nil {
		return TutorView{}, err
	}
	active := current.IsActive
	if input.IsActive != nil {
		active = *input.IsActive
	}
	profile, err := s.store.UpdateTutorProfile(ctx, principal.ID, strings.TrimSpace(input.Bio), store.NormalizeSubjects(input.Subjects), active)
	if err != nil {
		return TutorView{}, err
	}
	return tutorView(profile), nil
}
