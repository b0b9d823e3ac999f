package main

import (
	"context"
	"fmt"

	"github.com/trezcool/jotutor/core/course"
)

func (cli *commandLine) addCourse(ctx context.Context, nc course.NewCourse) error {
	if err := nc.Validate(cli.validate); err != nil {
		return err
	}
	crs, err := cli.crsSvc.Create(ctx, nc)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created course %q (%s) at %s JOD\n", crs.Title, crs.ID, crs.CheckoutAmount())
	return nil
}
