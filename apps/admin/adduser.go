package main

import (
	"context"
	"fmt"

	"github.com/trezcool/jotutor/core/user"
)

// addUser creates an active user.User, with every role when isAdmin is set.
func (cli *commandLine) addUser(ctx context.Context, nu user.NewUser, isAdmin bool) error {
	if isAdmin {
		nu.Roles = user.AllRoles
	}
	if err := nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
		return err
	}
	usr, err := cli.usrSvc.Create(ctx, nu)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created user %s (%s)\n", usr.Username, usr.ID)
	return nil
}
