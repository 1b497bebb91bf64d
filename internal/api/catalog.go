package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kingrea/fieldops/internal/domain"
)

// Companies lists the companies the user can work under.
func (c *Client) Companies(ctx context.Context) ([]domain.Company, error) {
	return FetchList[domain.Company](ctx, c, "/project/companies", nil)
}

// Projects lists a company's projects with their sites nested. Rows that
// name a different company are dropped: one backend build ignores the path
// parameter and returns every project.
func (c *Client) Projects(ctx context.Context, companyID domain.ID) ([]domain.Project, error) {
	path := "/project/projects-with-sites"
	if companyID != "" {
		path += "/" + url.PathEscape(string(companyID))
	}
	projects, err := FetchList[domain.Project](ctx, c, path, nil)
	if err != nil || companyID == "" {
		return projects, err
	}
	kept := projects[:0]
	for _, p := range projects {
		if p.CompanyID == "" || p.CompanyID == companyID {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// LoginUser is the profile returned alongside a session token.
type LoginUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// LoginResponse is the body of a successful login.
type LoginResponse struct {
	Token         string    `json:"token"`
	EncodedUserID string    `json:"encodedUserId"`
	Redirect      string    `json:"redirect"`
	User          LoginUser `json:"user"`
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return LoginResponse{}, fmt.Errorf("api: email and password are required")
	}
	var resp LoginResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.Post(ctx, "/auth/login", body, &resp); err != nil {
		return LoginResponse{}, err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return LoginResponse{}, &Error{Kind: KindDecode, Method: "POST", Path: "/auth/login", ServerMessage: "login response carried no token"}
	}
	return resp, nil
}
