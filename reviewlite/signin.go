// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewlite

import (
	"context"
	"net/http"

	"github.com/Darsh1153/trialbyte-v3-sub002/reviewq"
)

// Signin exchanges a user name and role for a bearer token through the
// dummy signin endpoint and returns the resulting session.
func (c *Client) Signin(ctx context.Context, user, role string) (Session, error) {
	req := reviewq.SigninRequest{User: user, Role: role}
	if fieldErrs := req.Ok(); fieldErrs != nil {
		return Session{}, &ValidationError{Fields: fieldErrs}
	}
	var resp reviewq.SigninResponse
	if err := c.call(ctx, Session{}, http.MethodPost, reviewq.PathSignin, &req, &resp, nil); err != nil {
		return Session{}, err
	}
	return Session{UserID: resp.User, Role: resp.Role, Token: resp.Token}, nil
}
