package main

import (
	"context"

	"github.com/trezcool/jotutor/core/user"
)

func (cli *commandLine) resetPassword(ctx context.Context, uname string, sp user.SetPassword) error {
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if err := sp.Validate(usr, cli.validate); err != nil {
		return err
	}
	_, err = cli.usrSvc.SetPassword(ctx, usr, sp.Password)
	return err
}
