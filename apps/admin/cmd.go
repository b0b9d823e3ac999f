package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"github.com/trezcool/jotutor/core/course"
	"github.com/trezcool/jotutor/core/enrollment"
	"github.com/trezcool/jotutor/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sqlx.DB
	usrSvc     user.ServiceInterface
	crsSvc     *course.Service
	enrollment *enrollment.Service
	validate   *validator.Validate
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  adduser -name NAME -username USERNAME -email EMAIL [-admin] - create a user")
	fmt.Fprintln(cli.out, "  addcourse -title TITLE -price PRICE [-pricejod PRICE] - create a course")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS...] - run a database migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  listpayments [-status Success|Pending|Failed] [-user USER_ID] - list payment records")
	fmt.Fprintln(cli.out, "  activatepayment -id PAYMENT_ID - activate a pending payment and grant course access")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
}

// promptPassword reads a password and its confirmation from the terminal.
func (cli *commandLine) promptPassword() (string, string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", "", err
	}
	fmt.Fprint(cli.out, "Confirm password:")
	confirm, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", "", err
	}
	return string(pwd), string(confirm), nil
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant the admin role.")

	addCourseCmd := flag.NewFlagSet("addcourse", flag.ContinueOnError)
	addCourseTitle := addCourseCmd.String("title", "", "The course title.")
	addCoursePrice := addCourseCmd.String("price", "", "The list price.")
	addCoursePriceJOD := addCourseCmd.String("pricejod", "0", "The price charged at checkout, in JOD.")

	listPaymentsCmd := flag.NewFlagSet("listpayments", flag.ContinueOnError)
	listPaymentsStatus := listPaymentsCmd.String("status", "", "Only list records with this status.")
	listPaymentsUser := listPaymentsCmd.String("user", "", "Only list records of this user ID.")

	activatePaymentCmd := flag.NewFlagSet("activatepayment", flag.ContinueOnError)
	activatePaymentID := activatePaymentCmd.String("id", "", "The pending payment record ID.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	for _, cmd := range []*flag.FlagSet{addUserCmd, addCourseCmd, listPaymentsCmd, activatePaymentCmd, resetPasswordCmd} {
		cmd.SetOutput(cli.out)
	}

	switch args[1] {
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || *addUserUname == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, confirm, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(ctx, user.NewUser{
			Name:            *addUserName,
			Username:        *addUserUname,
			Email:           *addUserEmail,
			Password:        pwd,
			PasswordConfirm: confirm,
		}, *addUserAdmin)
	case "addcourse":
		if err := addCourseCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addCourseTitle == "" || *addCoursePrice == "" {
			addCourseCmd.Usage()
			return errHelp
		}
		price, err := decimal.NewFromString(*addCoursePrice)
		if err != nil {
			return fmt.Errorf("invalid price %q", *addCoursePrice)
		}
		priceJOD, err := decimal.NewFromString(*addCoursePriceJOD)
		if err != nil {
			return fmt.Errorf("invalid JOD price %q", *addCoursePriceJOD)
		}
		return cli.addCourse(ctx, course.NewCourse{Title: *addCourseTitle, Price: price, PriceJOD: priceJOD})
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])
	case "listpayments":
		if err := listPaymentsCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.listPayments(ctx, *listPaymentsStatus, *listPaymentsUser)
	case "activatepayment":
		if err := activatePaymentCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *activatePaymentID == "" {
			activatePaymentCmd.Usage()
			return errHelp
		}
		return cli.activatePayment(ctx, *activatePaymentID)
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, confirm, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(ctx, *resetPasswordUname, user.SetPassword{Password: pwd, PasswordConfirm: confirm})
	default:
		cli.printUsage()
		return errHelp
	}
}
