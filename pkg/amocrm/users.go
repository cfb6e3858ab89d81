package amocrm

import (
	"context"
	"net/url"
	"strconv"
)

// User is an account user.
type User struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Rights struct {
		GroupID  *int64 `json:"group_id"`
		IsActive bool   `json:"is_active"`
	} `json:"rights"`
}

// InGroup reports whether the user belongs to the group.
func (u User) InGroup(groupID int64) bool {
	return u.Rights.GroupID != nil && *u.Rights.GroupID == groupID
}

// UsersPage is one page of users.
type UsersPage struct {
	Page  int
	Users []User
	Next  string
}

type usersResponse struct {
	Page     int   `json:"_page"`
	Links    links `json:"_links"`
	Embedded struct {
		Users []User `json:"users"`
	} `json:"_embedded"`
}

func (c *httpClient) Users(ctx context.Context, page int) (*UsersPage, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))

	var resp usersResponse
	if err := c.getJSON(ctx, "/api/v4/users", params, &resp); err != nil {
		return nil, err
	}
	return &UsersPage{Page: resp.Page, Users: resp.Embedded.Users, Next: resp.Links.Next.Href}, nil
}
