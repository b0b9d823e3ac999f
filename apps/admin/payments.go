package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/trezcool/jotutor/core/enrollment"
	"github.com/trezcool/jotutor/core/payment"
)

func (cli *commandLine) listPayments(ctx context.Context, status, userID string) error {
	filter := &enrollment.QueryFilter{Status: payment.RecordStatus(status), UserID: userID}
	recs, err := cli.enrollment.QueryPayments(ctx, filter, nil)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tUSER\tCOURSE\tAMOUNT\tSTATUS\tMETHOD")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s %s\t%s\t%s\n",
			rec.ID, rec.Date.Format("2006-01-02 15:04"), rec.UserName, rec.CourseName,
			rec.Amount.StringFixed(2), rec.Currency, rec.Status, rec.PaymentMethod)
	}
	return w.Flush()
}

func (cli *commandLine) activatePayment(ctx context.Context, id string) error {
	rec, err := cli.enrollment.ActivatePayment(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "payment %s activated: %s now has access to %q\n", rec.ID, rec.UserName, rec.CourseName)
	return nil
}
