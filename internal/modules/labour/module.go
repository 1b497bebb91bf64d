// Package labour assigns labourers to a work description for a date range.
// It has no per-item history; its one write is a batch assignment posted to
// `/site-incharge/save-labour-assignment`.
package labour

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/kingrea/fieldops/internal/api"
	"github.com/kingrea/fieldops/internal/domain"
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/upsert"
)

const (
	moduleID      = "labour"
	moduleVersion = "1.0.0"
)

// Module books labour assignments.
type Module struct {
	*module.Base
	client   *api.Client
	log      logrus.FieldLogger
	validate *validator.Validate
}

// Register installs the labour module factory.
func Register(reg *module.Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(moduleID, func(deps module.Deps) (module.Module, error) {
		return New(deps)
	})
}

// New constructs the labour module.
func New(deps module.Deps) (*Module, error) {
	if deps.Client == nil {
		return nil, fmt.Errorf("labour: api client is required")
	}
	info := module.Info{
		ID:            moduleID,
		Name:          "Labour Assignment",
		Description:   "Assign labourers to a work description for a date range.",
		Version:       moduleVersion,
		WriteMode:     upsert.ModeAppend,
		UnscopedItems: true,
	}
	base := module.NewBase(info)
	return &Module{
		Base:     &base,
		client:   deps.Client,
		log:      deps.Logger(moduleID),
		validate: validator.New(),
	}, nil
}

// WorkDescriptions lists the site's work descriptions.
func (m *Module) WorkDescriptions(ctx context.Context, scope module.Scope) ([]domain.WorkDescription, error) {
	q := url.Values{"site_id": {scope.Site.ID.String()}}
	return api.FetchList[domain.WorkDescription](ctx, m.client, "/site-incharge/work-descriptions", q)
}

// Items lists the labourers available for assignment.
func (m *Module) Items(ctx context.Context, _ module.Scope) ([]domain.LeafItem, error) {
	labours, err := api.FetchList[domain.Labour](ctx, m.client, "/site-incharge/labours", nil)
	if err != nil {
		return []domain.LeafItem{}, err
	}
	items := make([]domain.LeafItem, 0, len(labours))
	for _, l := range labours {
		items = append(items, domain.LeafItem{ID: l.ID, Category: "Labour", Name: l.FullName})
	}
	return items, nil
}

type assignmentPayload struct {
	ProjectID int64   `json:"project_id"`
	SiteID    int64   `json:"site_id"`
	DescID    int64   `json:"desc_id"`
	LabourIDs []int64 `json:"labour_ids"`
	FromDate  string  `json:"from_date"`
	ToDate    string  `json:"to_date"`
	CreatedBy int64   `json:"created_by"`
}

// Validate checks an assignment without sending it.
func (m *Module) Validate(a module.Assignment) error {
	if err := m.validate.Struct(a); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			switch fieldErrs[0].Field() {
			case "LabourIDs":
				return &upsert.ValidationError{Field: "LabourIDs", Message: "Select at least one labourer"}
			case "UserID":
				return &upsert.ValidationError{Field: "UserID", Message: "Sign in before saving"}
			}
		}
		return &upsert.ValidationError{Field: "Selection", Message: "Please fill all required fields"}
	}
	if a.From.IsZero() || a.To.IsZero() {
		return &upsert.ValidationError{Field: "From", Message: "Select both dates"}
	}
	if a.To.Before(a.From) {
		return &upsert.ValidationError{Field: "To", Message: "End date must be after start date"}
	}
	return nil
}

// Assign validates and posts an assignment.
func (m *Module) Assign(ctx context.Context, a module.Assignment) error {
	if err := m.Validate(a); err != nil {
		return err
	}
	payload := assignmentPayload{
		FromDate:  a.From.String(),
		ToDate:    a.To.String(),
		CreatedBy: a.UserID,
		LabourIDs: make([]int64, 0, len(a.LabourIDs)),
	}
	var err error
	if payload.ProjectID, err = a.ProjectID.Int(); err != nil {
		return fmt.Errorf("labour: project id %q: %w", a.ProjectID, err)
	}
	if payload.SiteID, err = a.SiteID.Int(); err != nil {
		return fmt.Errorf("labour: site id %q: %w", a.SiteID, err)
	}
	if payload.DescID, err = a.DescID.Int(); err != nil {
		return fmt.Errorf("labour: desc id %q: %w", a.DescID, err)
	}
	for _, id := range a.LabourIDs {
		n, err := id.Int()
		if err != nil {
			return fmt.Errorf("labour: labour id %q: %w", id, err)
		}
		payload.LabourIDs = append(payload.LabourIDs, n)
	}
	if err := m.client.Post(ctx, "/site-incharge/save-labour-assignment", payload, nil); err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{
		"site":    a.SiteID.String(),
		"desc":    a.DescID.String(),
		"labours": len(a.LabourIDs),
		"from":    payload.FromDate,
		"to":      payload.ToDate,
	}).Info("labour assignment saved")
	return nil
}
