// Package bootstrap implements the interactive admin provisioning used on a
// fresh deployment: it creates an admin account, or promotes an existing
// account to admin when the email is already registered.
package bootstrap

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/dmitrijs2005/feedauth/internal/server/models"
	"github.com/dmitrijs2005/feedauth/internal/server/roles"
	"github.com/dmitrijs2005/feedauth/internal/server/services"
)

var ErrPasswordMismatch = errors.New("passwords do not match")

type AdminService interface {
	CreateUserWithRole(ctx context.Context, in services.RegisterInput, role roles.Role) (*models.User, error)
	SetRoleByEmail(ctx context.Context, email string, role roles.Role) (*models.User, error)
}

// Result reports what Run did.
type Result struct {
	User     *models.User
	Promoted bool
}

// Run prompts for the admin's email, username and password on in/out.
//
// If the email already belongs to an account, that account is promoted and
// no password is asked for.
func Run(ctx context.Context, svc AdminService, in io.Reader, out io.Writer) (*Result, error) {
	reader := bufio.NewReader(in)

	email, err := GetSimpleText(reader, "Admin email", out)
	if err != nil {
		return nil, err
	}

	if u, err := svc.SetRoleByEmail(ctx, email, roles.Admin); err == nil {
		fmt.Fprintf(out, "Existing user %s promoted to admin\n", u.UserName)
		return &Result{User: u, Promoted: true}, nil
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	username, err := GetSimpleText(reader, "Admin username", out)
	if err != nil {
		return nil, err
	}

	password, err := GetPassword("Enter password", out)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(password)

	confirm, err := GetPassword("Repeat password", out)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(confirm)

	if !bytes.Equal(password, confirm) {
		return nil, ErrPasswordMismatch
	}

	u, err := svc.CreateUserWithRole(ctx, services.RegisterInput{
		Username: username,
		Email:    email,
		Password: string(password),
	}, roles.Admin)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Admin %s created\n", u.UserName)
	return &Result{User: u}, nil
}
