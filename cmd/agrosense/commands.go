package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgellow/agrosense/internal"
	"github.com/dgellow/agrosense/internal/authclient"
	"github.com/dgellow/agrosense/internal/nav"
	"github.com/dgellow/agrosense/internal/storage"
	"github.com/dgellow/agrosense/internal/validate"
)

func run(ctx context.Context, app *internal.App, args []string) error {
	switch args[0] {
	case "signup":
		if len(args) != 3 {
			return fmt.Errorf("usage: signup <name> <phone>")
		}
		if err := app.Entry.SignUp(ctx, args[1], args[2]); err != nil {
			return errors.New(app.Entry.Error())
		}
		return verifyCode(ctx, app)

	case "signin":
		if len(args) != 2 {
			return fmt.Errorf("usage: signin <phone>")
		}
		if err := app.Entry.SignIn(ctx, args[1]); err != nil {
			return errors.New(app.Entry.Error())
		}
		return verifyCode(ctx, app)

	case "status":
		profile, err := app.Profile(ctx)
		if errors.Is(err, internal.ErrNotLoggedIn) {
			fmt.Println("Not signed in.")
			var serr *storage.StorageError
			if errors.As(err, &serr) {
				return fmt.Errorf("signed out on this device only, the stored session could not be removed: %w", serr)
			}
			return nil
		}
		if err != nil {
			return errors.New(authclient.UserMessage(err))
		}
		fmt.Printf("Signed in as %s (%s)\n", profile.Name, validate.MaskPhone(profile.PhoneNumber))
		return nil

	case "logout":
		app.Session.Restore(ctx)
		if err := app.Session.LogOut(ctx); err != nil {
			return fmt.Errorf("session could not be removed from storage: %w", err)
		}
		fmt.Println("Signed out.")
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func verifyCode(ctx context.Context, app *internal.App) error {
	last, ok := app.Navigator.Last()
	if !ok {
		return fmt.Errorf("no code screen to open")
	}

	ctrl, err := app.OpenCodeScreen(last.Destination)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	fmt.Printf("A code was sent to %s.\n", validate.MaskPhone(last.Destination.Param(nav.ParamPhoneNumber)))
	return runCodeScreen(ctx, ctrl, os.Stdin, os.Stdout)
}
